package pricing

import "strings"

// NativeKey is the price-table key reserved for the native coin.
const NativeKey = "NATIVE"

// Method identifies the medium a buyer pays with: the native coin or one of
// the registered payment tokens. The zero value is not a valid method.
type Method struct {
	native bool
	token  string
}

// Native returns the method representing payment in the native coin.
func Native() Method {
	return Method{native: true}
}

// Token returns the method representing payment in the token with the supplied
// symbol. Symbols are normalised to upper case.
func Token(symbol string) Method {
	return Method{token: strings.ToUpper(strings.TrimSpace(symbol))}
}

// MethodFromKey reconstructs a method from its price-table key.
func MethodFromKey(key string) Method {
	normalized := strings.ToUpper(strings.TrimSpace(key))
	if normalized == NativeKey {
		return Native()
	}
	return Method{token: normalized}
}

func (m Method) IsNative() bool { return m.native }

// TokenSymbol returns the payment token symbol, or the empty string for the
// native method.
func (m Method) TokenSymbol() string {
	if m.native {
		return ""
	}
	return m.token
}

// Key returns the canonical price-table key for the method.
func (m Method) Key() string {
	if m.native {
		return NativeKey
	}
	return m.token
}

// Valid reports whether the method names a payable medium.
func (m Method) Valid() bool {
	return m.native || m.token != ""
}

func (m Method) String() string { return m.Key() }
