package toolthread

// Provider is a capability provider: a named group of functions built once by its
// constructor (the construction arguments) and exposed through a Registry.
type Provider interface {
	Name() string
	Tools() []Tool
}

type staticProvider struct {
	name  string
	tools []Tool
}

// NewProvider groups already-built tools under a provider name.
func NewProvider(name string, tools ...Tool) Provider {
	return &staticProvider{name: name, tools: append([]Tool(nil), tools...)}
}

func (p *staticProvider) Name() string  { return p.name }
func (p *staticProvider) Tools() []Tool { return append([]Tool(nil), p.tools...) }

// Functions maps exposed function names to invocable tools (see Registry.AvailableFunctions).
type Functions map[string]Tool

// Names returns the function names in no particular order.
func (f Functions) Names() []string {
	out := make([]string, 0, len(f))
	for name := range f {
		out = append(out, name)
	}
	return out
}
