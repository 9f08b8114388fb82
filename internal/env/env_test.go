package env

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Var
	}{
		{name: "blank", in: " \n\n", want: Var{}},
		{
			name: "comments and quotes",
			in:   "# comment\nFOO=bar\nBAR=\"baz qux\"\n",
			want: Var{"FOO": "bar", "BAR": "baz qux"},
		},
		{name: "single quoted", in: "S='a b'", want: Var{"S": "a b"}},
		{name: "escaped newline in double quotes", in: `M="a\nb"`, want: Var{"M": "a\nb"}},
		{name: "export prefix", in: "export E=1", want: Var{"E": "1"}},
		{name: "empty value", in: "EMPTY=", want: Var{"EMPTY": ""}},
		{name: "inline comment", in: "P=8080 # port", want: Var{"P": "8080"}},
		{name: "empty double quotes", in: `EMPTY=""`, want: Var{"EMPTY": ""}},
		{name: "colon separator", in: "C: v", want: Var{"C": "v"}},
		{name: "crlf", in: "A=1\r\nB=2\r\n", want: Var{"A": "1", "B": "2"}},
		{
			name: "multi-line double quotes",
			in:   "X=\"first\nsecond\"\nY=after",
			want: Var{"X": "first\nsecond", "Y": "after"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Fatalf("Parse(%q)[%s] = %q, want %q", tt.in, k, got[k], v)
				}
			}
		})
	}
}

func TestParse_ValuesAreLiteral(t *testing.T) {
	t.Setenv("X", "from-os")
	t.Setenv("MINIONS_TEST_HOME", "/srv/minions")
	in := strings.Join([]string{
		"P1=$def",
		"P2=pa$$word",
		"P3=cost${X}y",
		"A=1",
		"B=${A}-x",
		"DATA=${MINIONS_TEST_HOME}/data",
		`D="cost${X}y"`,
		"S='$X'",
		`E=\$X`,
	}, "\n")
	got := Parse(in)
	want := Var{
		"P1":   "$def",
		"P2":   "pa$$word",
		"P3":   "cost${X}y",
		"A":    "1",
		"B":    "${A}-x",
		"DATA": "${MINIONS_TEST_HOME}/data",
		"D":    "cost${X}y",
		"S":    "$X",
		"E":    `\$X`,
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("Parse()[%s] = %q, want %q", k, got[k], v)
		}
	}
}

func TestParse_SkipsMalformedLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Var
	}{
		{name: "junk before pair", in: "JUNK LINE\nFOO=bar", want: Var{"FOO": "bar"}},
		{name: "only junk", in: "NOT A PAIR", want: Var{}},
		{name: "missing key", in: "=value\nK=v", want: Var{"K": "v"}},
		{name: "unterminated quote", in: "Q=\"unterminated\nFOO=bar", want: Var{"FOO": "bar"}},
		{name: "unterminated single quote", in: "FOO=bar\nQ='open", want: Var{"FOO": "bar"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Fatalf("Parse(%q)[%s] = %q, want %q", tt.in, k, got[k], v)
				}
			}
		})
	}
}

func TestMerge_OverridesOS(t *testing.T) {
	t.Setenv("MINIONS_TEST_BASE", "os")
	t.Setenv("MINIONS_TEST_KEEP", "kept")
	out := New().Merge(Var{"MINIONS_TEST_BASE": "override", "MINIONS_TEST_NEW": "n", "": "skip"})

	got := map[string]string{}
	for _, kv := range out {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			t.Fatalf("bad pair %q", kv)
		}
		got[kv[:i]] = kv[i+1:]
	}
	if got["MINIONS_TEST_BASE"] != "override" {
		t.Fatalf("override not applied: %q", got["MINIONS_TEST_BASE"])
	}
	if got["MINIONS_TEST_KEEP"] != "kept" {
		t.Fatalf("base var lost: %q", got["MINIONS_TEST_KEEP"])
	}
	if got["MINIONS_TEST_NEW"] != "n" {
		t.Fatalf("new var missing")
	}
	for i := 1; i < len(out); i++ {
		if out[i-1] > out[i] {
			t.Fatalf("output not sorted at %d: %q > %q", i, out[i-1], out[i])
		}
	}
}

func TestMerge_CachedBase(t *testing.T) {
	t.Setenv("MINIONS_TEST_LATE", "before")
	e := New()
	e.FromOS()
	t.Setenv("MINIONS_TEST_LATE", "after")
	for _, kv := range e.Merge(nil) {
		if kv == "MINIONS_TEST_LATE=after" {
			t.Fatalf("cached base should not observe later OS changes")
		}
	}
}

// FuzzParseMerge checks that whatever Parse returns merges into well formed pairs.
func FuzzParseMerge(f *testing.F) {
	f.Add("A=1\nB=${A}-x")
	f.Add("JUNK\nQ=\"open")
	f.Add("# c\nK='v'")
	f.Add("X=\"multi\nline\"")
	f.Fuzz(func(t *testing.T, in string) {
		for _, kv := range New().Merge(Parse(in)) {
			if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
		}
	})
}
