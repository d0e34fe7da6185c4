package session

import (
	"fmt"
	"sort"
	"strings"

	"github.com/glide-wallet/glide-wallet/internal/chains"
)

// Namespace describes what one chain family of a session may do: which
// chains it spans, which methods it may call, which events it will receive,
// and (once approved) which accounts it is scoped to.
type Namespace struct {
	Chains   []string `json:"chains,omitempty"`
	Methods  []string `json:"methods"`
	Events   []string `json:"events"`
	Accounts []string `json:"accounts,omitempty"`
}

// Namespaces maps a namespace key ("eip155", or a chain-qualified form like
// "eip155:137") to its requested or approved scope.
type Namespaces map[string]Namespace

const namespaceEVM = "eip155"

// Methods a session may route into the wallet. Read-only queries go to
// public RPC endpoints directly, so sessions only carry what needs the
// wallet's key or its chain selection.
var supportedMethods = []string{
	"eth_accounts",
	"eth_chainId",
	"eth_requestAccounts",
	"eth_sendTransaction",
	"eth_sign",
	"eth_signTypedData",
	"eth_signTypedData_v4",
	"personal_sign",
	"wallet_switchEthereumChain",
}

var supportedEvents = []string{"accountsChanged", "chainChanged"}

// supportedNamespace describes everything the wallet can grant: every
// registered chain, the signing method set, and the provider events.
func supportedNamespace(registry *chains.Registry) Namespace {
	ids := registry.IDs()
	chainRefs := make([]string, 0, len(ids))
	for _, id := range ids {
		chainRefs = append(chainRefs, fmt.Sprintf("%s:%d", namespaceEVM, id))
	}
	return Namespace{
		Chains:  chainRefs,
		Methods: supportedMethods,
		Events:  supportedEvents,
	}
}

// approveNamespaces intersects what the dApp asked for with what the wallet
// supports and scopes the result to the active address. Everything a
// required namespace names must be supported or the proposal cannot be
// approved; optional namespaces contribute whatever overlaps.
func approveNamespaces(supported Namespace, required, optional Namespaces, address string) (Namespaces, error) {
	reqChains, reqMethods, reqEvents, err := flatten(required)
	if err != nil {
		return nil, err
	}

	if missing := subtract(reqChains, supported.Chains); len(missing) > 0 {
		return nil, fmt.Errorf("proposal requires unsupported chains: %s", strings.Join(missing, ", "))
	}
	if missing := subtract(reqMethods, supported.Methods); len(missing) > 0 {
		return nil, fmt.Errorf("proposal requires unsupported methods: %s", strings.Join(missing, ", "))
	}
	if missing := subtract(reqEvents, supported.Events); len(missing) > 0 {
		return nil, fmt.Errorf("proposal requires unsupported events: %s", strings.Join(missing, ", "))
	}

	optChains, optMethods, optEvents, err := flatten(optional)
	if err != nil {
		// Optional namespaces the wallet cannot parse grant nothing.
		optChains, optMethods, optEvents = nil, nil, nil
	}

	approvedChains := union(reqChains, intersect(optChains, supported.Chains))
	if len(approvedChains) == 0 {
		return nil, fmt.Errorf("proposal requests no supported chains")
	}
	approvedMethods := union(reqMethods, intersect(optMethods, supported.Methods))
	approvedEvents := union(reqEvents, intersect(optEvents, supported.Events))

	accounts := make([]string, 0, len(approvedChains))
	for _, chain := range approvedChains {
		accounts = append(accounts, chain+":"+address)
	}

	return Namespaces{
		namespaceEVM: {
			Chains:   approvedChains,
			Methods:  approvedMethods,
			Events:   approvedEvents,
			Accounts: accounts,
		},
	}, nil
}

// flatten collapses a namespace map into its chain, method, and event sets.
// A chain-qualified key ("eip155:137") implies that chain even when the
// entry's Chains list is empty. Namespace families other than eip155 are an
// error; the caller decides whether that error is fatal.
func flatten(namespaces Namespaces) (chains, methods, events []string, err error) {
	for key, ns := range namespaces {
		family, qualifier, qualified := strings.Cut(key, ":")
		if family != namespaceEVM {
			return nil, nil, nil, fmt.Errorf("unsupported namespace %q", key)
		}
		if qualified {
			chains = append(chains, namespaceEVM+":"+qualifier)
		}
		for _, chain := range ns.Chains {
			if !strings.HasPrefix(chain, namespaceEVM+":") {
				return nil, nil, nil, fmt.Errorf("unsupported chain reference %q", chain)
			}
			chains = append(chains, chain)
		}
		methods = append(methods, ns.Methods...)
		events = append(events, ns.Events...)
	}
	return dedupe(chains), dedupe(methods), dedupe(events), nil
}

// rescope rewrites a namespace set's accounts to a new address, keeping
// chains, methods, and events untouched.
func rescope(namespaces Namespaces, address string) Namespaces {
	out := make(Namespaces, len(namespaces))
	for key, ns := range namespaces {
		accounts := make([]string, 0, len(ns.Chains))
		for _, chain := range ns.Chains {
			accounts = append(accounts, chain+":"+address)
		}
		ns.Accounts = accounts
		out[key] = ns
	}
	return out
}

// allows reports whether a namespace set covers a chain reference and a
// method on it.
func (n Namespaces) allows(chainRef, method string) bool {
	for _, ns := range n {
		if contains(ns.Chains, chainRef) && contains(ns.Methods, method) {
			return true
		}
	}
	return false
}

// allowsEvent reports whether a namespace set subscribed to an event on a
// chain.
func (n Namespaces) allowsEvent(chainRef, event string) bool {
	for _, ns := range n {
		if contains(ns.Chains, chainRef) && contains(ns.Events, event) {
			return true
		}
	}
	return false
}

func contains(set []string, want string) bool {
	for _, have := range set {
		if have == want {
			return true
		}
	}
	return false
}

func intersect(a, b []string) []string {
	out := make([]string, 0, len(a))
	for _, v := range a {
		if contains(b, v) {
			out = append(out, v)
		}
	}
	return out
}

func subtract(a, b []string) []string {
	out := make([]string, 0)
	for _, v := range a {
		if !contains(b, v) {
			out = append(out, v)
		}
	}
	return out
}

func union(a, b []string) []string {
	return dedupe(append(append([]string{}, a...), b...))
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
