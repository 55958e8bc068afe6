package types

// Rule identifies a tajweed rule family. The string values match the class
// names used by the tajweed-annotated Quran text corpora.
type Rule string

const (
	RuleHamzatWasl         Rule = "ham_wasl"
	RuleLamShamsiyyah      Rule = "laam_shamsiyah"
	RuleSilent             Rule = "slnt"
	RuleMaddNormal         Rule = "madda_normal"
	RuleMaddPermissible    Rule = "madda_permissible"
	RuleMaddNecessary      Rule = "madda_necessary"
	RuleMaddObligatory     Rule = "madda_obligatory"
	RuleQalqalah           Rule = "qalaqah"
	RuleIkhfaShafawi       Rule = "ikhafa_shafawi"
	RuleIkhfa              Rule = "ikhafa"
	RuleIdghamShafawi      Rule = "idgham_shafawi"
	RuleIqlab              Rule = "iqlab"
	RuleIdghamGhunnah      Rule = "idgham_ghunnah"
	RuleIdghamNoGhunnah    Rule = "idgham_wo_ghunnah"
	RuleIdghamMutajanisayn Rule = "idgham_mutajanisayn"
	RuleIdghamMutaqaribayn Rule = "idgham_mutaqaribayn"
	RuleGhunnah            Rule = "ghunnah"
	RuleIzhar              Rule = "izhar"
)

// ruleInstructions maps each rule to the instruction shown to the reciter
// when the rule is violated.
var ruleInstructions = map[Rule]string{
	RuleHamzatWasl:         "Hamzat al-wasl is dropped when joining from the previous word",
	RuleLamShamsiyyah:      "Lam is assimilated into the following sun letter",
	RuleSilent:             "Letter is written but not pronounced",
	RuleMaddNormal:         "Natural elongation of 2 counts",
	RuleMaddPermissible:    "Permissible elongation of 2, 4 or 6 counts",
	RuleMaddNecessary:      "Necessary elongation of 6 counts",
	RuleMaddObligatory:     "Obligatory elongation of 4 or 5 counts",
	RuleQalqalah:           "Echoing bounce on the sakin qalqalah letter",
	RuleIkhfaShafawi:       "Hide the meem sakinah before ba with ghunnah",
	RuleIkhfa:              "Hide the noon sakinah or tanween with ghunnah",
	RuleIdghamShafawi:      "Merge the meem sakinah into the following meem with ghunnah",
	RuleIqlab:              "Convert the noon sakinah or tanween to meem before ba",
	RuleIdghamGhunnah:      "Merge the noon sakinah or tanween with ghunnah",
	RuleIdghamNoGhunnah:    "Merge the noon sakinah or tanween without ghunnah",
	RuleIdghamMutajanisayn: "Merge letters sharing the same articulation point",
	RuleIdghamMutaqaribayn: "Merge letters with close articulation points",
	RuleGhunnah:            "Nasalization of 2 counts on the shaddah noon or meem",
	RuleIzhar:              "Pronounce the noon sakinah or tanween clearly",
}

// Rules returns every known rule in a stable order.
func Rules() []Rule {
	return []Rule{
		RuleHamzatWasl, RuleLamShamsiyyah, RuleSilent,
		RuleMaddNormal, RuleMaddPermissible, RuleMaddNecessary, RuleMaddObligatory,
		RuleQalqalah, RuleIkhfaShafawi, RuleIkhfa, RuleIdghamShafawi, RuleIqlab,
		RuleIdghamGhunnah, RuleIdghamNoGhunnah, RuleIdghamMutajanisayn,
		RuleIdghamMutaqaribayn, RuleGhunnah, RuleIzhar,
	}
}

// IsValid reports whether r is a recognised rule.
func (r Rule) IsValid() bool {
	_, ok := ruleInstructions[r]
	return ok
}

// Instruction returns a human-readable description of how the rule is
// applied. Unknown rules yield a generic instruction naming the rule.
func (r Rule) Instruction() string {
	if s, ok := ruleInstructions[r]; ok {
		return s
	}
	return "Apply tajweed rule " + string(r)
}
