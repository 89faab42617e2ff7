package verifier

// MethodRule checks one method. Check must not retain ctx.
type MethodRule struct {
	ID    string
	Since int
	Check func(ctx *MethodContext) []Issue
}

// ClassRule checks one class as a whole.
type ClassRule struct {
	ID    string
	Since int
	Check func(ctx *ClassContext) []Issue
}

var (
	methodRules []MethodRule
	classRules  []ClassRule
)

func registerMethodRule(r MethodRule) { methodRules = append(methodRules, r) }

func registerClassRule(r ClassRule) { classRules = append(classRules, r) }

// MethodRules returns the method rules in force at version v, in
// registration order.
func MethodRules(v int) []MethodRule {
	var out []MethodRule
	for _, r := range methodRules {
		if r.Since <= v {
			out = append(out, r)
		}
	}
	return out
}

// ClassRules returns the class rules in force at version v.
func ClassRules(v int) []ClassRule {
	var out []ClassRule
	for _, r := range classRules {
		if r.Since <= v {
			out = append(out, r)
		}
	}
	return out
}

func init() {
	for _, r := range []MethodRule{
		{ID: RuleCodeShape, Check: checkCodeShape},
		{ID: RuleEntryDeclaration, Check: checkEntryDeclaration},
		{ID: RuleEntryCallContext, Check: checkEntryCallContext},
		{ID: RulePayable, Check: checkPayable},
		{ID: RuleRedPayable, Check: checkRedPayable},
		{ID: RuleThrowsExceptions, Check: checkThrowsExceptions},
		{ID: RuleSelfCharged, Check: checkSelfCharged},
		{ID: RuleWhitelistedAnnotation, Check: checkWhitelistedOnMethod},
		{ID: RuleModifiers, Check: checkModifiers},
		{ID: RuleSubroutines, Check: checkSubroutines},
		{ID: RuleThisUpdate, Check: checkThisUpdate},
		{ID: RuleStaticWrite, Check: checkStaticWrite},
		{ID: RuleWhitelist, Check: checkWhitelist},
		{ID: RuleCaller, Check: checkCaller},
		{ID: RuleLambdaTarget, Check: checkLambdaTarget},
		{ID: RuleUncheckedCatch, Since: 1, Check: checkUncheckedCatch},
		{ID: RuleView, Check: checkView},
	} {
		registerMethodRule(r)
	}
	for _, r := range []ClassRule{
		{ID: RulePackage, Check: checkPackage},
		{ID: RuleBootstrap, Check: checkBootstraps},
		{ID: RuleStorageFields, Check: checkStorageFields},
		{ID: RuleExported, Check: checkExported},
		{ID: RuleWhitelistedAnnotation, Check: checkWhitelistedOnClass},
		{ID: RuleAnnotationConsistency, Check: checkAnnotationConsistency},
	} {
		registerClassRule(r)
	}
}
