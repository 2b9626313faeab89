package ini_test

import (
	"strings"
	"testing"

	"github.com/AngellusMortis/ark-operator/internal/ini"
)

func TestParseAndWrite(t *testing.T) {
	input := "[ServerSettings]\nServerPVE = False\nRCONPort=27777\n\n[SessionSettings]\nPort = 7777\n"
	doc, err := ini.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	v, ok := doc.Get("ServerSettings", "ServerPVE")
	if !ok || v != "False" {
		t.Fatalf("got %q, %v", v, ok)
	}

	out := ini.String(doc)
	if !strings.Contains(out, "RCONPort = 27777") {
		t.Fatalf("serialized output missing expected key=value: %q", out)
	}
}

func TestParseMissingEquals(t *testing.T) {
	_, err := ini.Parse(strings.NewReader("not-a-kv-line"))
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSectionlessRegionFirst(t *testing.T) {
	doc := ini.New()
	doc.Set("", "leading", "1")
	doc.Set("Sec", "k", "v")

	out := ini.String(doc)
	if !strings.HasPrefix(out, "leading = 1\n") {
		t.Fatalf("sectionless region must come first, got %q", out)
	}
}

func TestMergeScenarioE(t *testing.T) {
	global, err := ini.ParseLines([]string{
		"[ServerSettings]",
		"ServerPVE=False",
		"RCONPort=27777",
		"RCONServerGameLogBuffer=600",
	})
	if err != nil {
		t.Fatal(err)
	}
	perMap, err := ini.ParseLines([]string{
		"[ServerSettings]",
		"ServerPVE=True",
		"RCONPort=27778",
	})
	if err != nil {
		t.Fatal(err)
	}
	managed, err := ini.ParseLines([]string{
		"[ServerSettings]",
		"RCONEnabled=True",
		"RCONPort=27020",
		"ServerAdminPassword=pw",
		"[SessionSettings]",
		"Port=7777",
		"SessionName=Test",
	})
	if err != nil {
		t.Fatal(err)
	}

	merged := ini.Merge(global, perMap, false, nil)
	merged = ini.Merge(merged, managed, true, nil)

	want := "[ServerSettings]\n" +
		"ServerPVE = True\n" +
		"RCONPort = 27020\n" +
		"RCONServerGameLogBuffer = 600\n" +
		"RCONEnabled = True\n" +
		"ServerAdminPassword = pw\n" +
		"\n[SessionSettings]\n" +
		"Port = 7777\n" +
		"SessionName = Test\n"

	if got := ini.String(merged); got != want {
		t.Fatalf("merge output mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestMergeNilArguments(t *testing.T) {
	child, _ := ini.ParseLines([]string{"[A]", "k=v"})

	if got := ini.Merge(nil, child, false, nil); got != child {
		t.Fatal("nil parent should return child")
	}
	if got := ini.Merge(child, nil, false, nil); got != child {
		t.Fatal("nil child should return parent")
	}
	if got := ini.Merge(nil, nil, false, nil); got != nil {
		t.Fatal("both nil should return nil")
	}
}

func TestMergeCommutativityOfDistinctKeys(t *testing.T) {
	a, _ := ini.ParseLines([]string{"[S]", "a=1"})
	b, _ := ini.ParseLines([]string{"[S]", "b=2"})

	ab := ini.Merge(a, b, false, nil)
	ba := ini.Merge(b, a, false, nil)

	if !ini.Equal(ab, ba) {
		t.Fatalf("merge of disjoint keys should commute: %q vs %q", ini.String(ab), ini.String(ba))
	}
}

func TestMergePrecedence(t *testing.T) {
	a, _ := ini.ParseLines([]string{"[S]", "k=old"})
	b, _ := ini.ParseLines([]string{"[S]", "k=new"})

	merged := ini.Merge(a, b, false, nil)
	v, _ := merged.Get("S", "k")
	if v != "new" {
		t.Fatalf("child must win on shared key, got %q", v)
	}
}
