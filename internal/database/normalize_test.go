package database

import "testing"

func TestRemoveDiacritics(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Jiří", "Jiri"},
		{"Tomáš", "Tomas"},
		{"Žofín", "Zofin"},
		{"plain ascii", "plain ascii"},
		{"", ""},
	}

	for _, tc := range tests {
		if got := RemoveDiacritics(tc.input); got != tc.expected {
			t.Errorf("RemoveDiacritics(%q) = %q, expected %q", tc.input, got, tc.expected)
		}
	}
}

func TestNormalizeName_EquivalentForms(t *testing.T) {
	if NormalizeName("main-hall") != NormalizeName("Main Hall") {
		t.Error("expected 'main-hall' and 'Main Hall' to normalize equally")
	}
	if NormalizeName("  Nedělní Bohoslužba ") != "nedelni bohosluzba" {
		t.Errorf("unexpected normalization: %q", NormalizeName("  Nedělní Bohoslužba "))
	}
}

func TestNameSlug(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Sunday Service", "sunday-service"},
		{"Nedělní Bohoslužba", "nedelni-bohosluzba"},
		{"main-hall", "main-hall"},
	}

	for _, tc := range tests {
		if got := NameSlug(tc.input); got != tc.expected {
			t.Errorf("NameSlug(%q) = %q, expected %q", tc.input, got, tc.expected)
		}
	}
}
