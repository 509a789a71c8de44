package chain

import (
	"strings"
)

// Entry — поле записи в порядке объявления.
type Entry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Record — расшифрованная запись.
type Record struct {
	Owner   string  `json:"owner"`
	Name    string  `json:"name"`
	Entries []Entry `json:"entries"`
	Nonce   string  `json:"nonce"`
}

// Entry returns the value of a named entry.
func (r Record) Entry(name string) (string, bool) {
	for _, e := range r.Entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return "", false
}

// Amount извлекает сумму из поля microcredits или amount.
func (r Record) Amount() (uint64, bool) {
	for _, name := range []string{"microcredits", "amount"} {
		if v, ok := r.Entry(name); ok {
			n, err := ParseU64(v)
			if err != nil {
				return 0, false
			}
			return n, true
		}
	}
	return 0, false
}

// Canonical is the text form the record commitment is computed over.
func (r Record) Canonical() string {
	var b strings.Builder
	b.WriteString("{owner: ")
	b.WriteString(r.Owner)
	b.WriteString(".private")
	for _, e := range r.Entries {
		b.WriteString(", ")
		b.WriteString(e.Name)
		b.WriteString(": ")
		b.WriteString(e.Value)
	}
	b.WriteString(", _nonce: ")
	b.WriteString(r.Nonce)
	b.WriteString(".public}")
	return b.String()
}
