package classfile

const (
	lambdaMetafactory = "java/lang/invoke/LambdaMetafactory"
	metafactory       = "metafactory"
)

// LambdaSite is an invokedynamic bootstrapped by
// LambdaMetafactory.metafactory.
type LambdaSite struct {
	Bootstrap uint16    // index into the BootstrapMethods attribute
	Kind      uint8     // reference kind of the implementation handle
	Target    MemberRef // implementation method
}

// MetafactoryTarget decodes the InvokeDynamic constant indy against the
// decoded bootstrap methods of its class. It reports false for any other
// bootstrap method.
func MetafactoryTarget(p *Pool, bootstraps []BootstrapMethod, indy uint16) (LambdaSite, bool) {
	bsm, _, _, err := p.InvokeDynamic(indy)
	if err != nil || int(bsm) >= len(bootstraps) {
		return LambdaSite{}, false
	}
	b := bootstraps[bsm]
	if len(b.Arguments) < 2 {
		return LambdaSite{}, false
	}
	_, ref, err := p.MethodHandle(b.Method)
	if err != nil || ref.Owner != lambdaMetafactory || ref.Name != metafactory {
		return LambdaSite{}, false
	}
	kind, target, err := p.MethodHandle(b.Arguments[1])
	if err != nil {
		return LambdaSite{}, false
	}
	return LambdaSite{Bootstrap: bsm, Kind: kind, Target: target}, true
}

// LambdaBody returns the method of cf that implements site, when it is a
// private synthetic method of cf: the body javac generates for a lambda.
func (cf *ClassFile) LambdaBody(site LambdaSite) *Member {
	if site.Target.Owner != cf.Name {
		return nil
	}
	m := cf.Method(site.Target.Name, site.Target.Descriptor)
	if m == nil || !m.Is(AccSynthetic) || !m.Is(AccPrivate) {
		return nil
	}
	return m
}
