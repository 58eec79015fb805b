package folder

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "Misc"},
		{"whitespace only", "   ", "Misc"},
		{"known root kept", "Finance/Receipts", "Finance/Receipts"},
		{"lowercase root", "finance/receipts", "Finance/Receipts"},
		{"unknown root prefixed", "Taxes/2024", "Misc/Taxes/2024"},
		{"punctuation stripped", "finance//re-ceipts!!", "Finance/Re Ceipts"},
		{"slashes only", "///", "Misc"},
		{"multi word segment", "home/yard work", "Home/Yard Work"},
		{"misc root not doubled", "Misc/Stuff", "Misc/Stuff"},
		{"mixed junk", "  work / project_alpha ", "Work/Project Alpha"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize(tc.in)
			if got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"", "   ", "finance/receipts", "Taxes/2024", "///",
		"some random text", "misc", "Misc/Misc", "home/yard work!!",
		"UPPER/case/THING", "a/b/c/d/e", "日本語/stuff",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}
