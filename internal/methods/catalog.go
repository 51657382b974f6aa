package methods

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"pendingScope/internal/filter"
)

// Method describes a known contract method.
type Method struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
}

// Selector resolves a method name, or a raw "0x" selector, to a selector.
func Selector(name string) (filter.Selector, error) {
	if sel, err := filter.ParseSelector(name); err == nil {
		return sel, nil
	}
	parsed, err := CatalogABI()
	if err != nil {
		return 0, fmt.Errorf("load method catalog: %w", err)
	}
	method, ok := parsed.Methods[name]
	if !ok {
		return 0, fmt.Errorf("unknown method %q", name)
	}
	sel, _ := filter.ExtractSelector(method.ID)
	return sel, nil
}

// Lookup finds the catalog method with selector sel.
func Lookup(sel filter.Selector) (Method, bool) {
	parsed, err := CatalogABI()
	if err != nil {
		return Method{}, false
	}
	method, err := parsed.MethodById(sel.Bytes())
	if err != nil {
		return Method{}, false
	}
	return describe(method), true
}

// Identify names the method called by input, if it is in the catalog.
func Identify(input []byte) (Method, bool) {
	sel, ok := filter.ExtractSelector(input)
	if !ok {
		return Method{}, false
	}
	return Lookup(sel)
}

func describe(method *abi.Method) Method {
	return Method{Name: method.RawName, Signature: method.Sig}
}
