package records

import (
	"strings"

	"AvailWallet/internal/cli/chain"
	"AvailWallet/internal/cli/model"
)

var (
	tokenFunctionWords = []string{"transfer", "mint", "burn", "approve", "balance"}
	nftFunctionWords   = []string{"nft", "edition", "collection", "token_uri", "mint_nft"}
)

// Classify определяет тип записи по программе и полям записи. Результат рекомендательный:
// сырые program_id и function_id всегда сохраняются в указателе.
func Classify(programID string, prog *chain.Program, rec chain.Record) model.RecordType {
	if chain.IsCredits(programID) {
		return model.RecordCredits
	}

	var tokenFns, nftFns int
	if prog != nil {
		for _, fn := range prog.Functions {
			name := strings.ToLower(fn.Name)
			switch {
			case containsAny(name, nftFunctionWords):
				nftFns++
			case containsAny(name, tokenFunctionWords):
				tokenFns++
			}
		}
	}

	fields := map[string]bool{}
	for _, e := range rec.Entries {
		fields[e.Name] = true
	}
	if prog != nil {
		if def, ok := prog.Record(rec.Name); ok {
			for _, f := range def.Fields {
				fields[f] = true
			}
		}
	}
	hasAmount := fields["amount"] || fields["microcredits"]
	hasData := fields["data"] || fields["edition"]

	tokenish := tokenFns > 0 || hasAmount
	nftish := nftFns > 0 || hasData
	switch {
	case tokenish && nftish:
		if hasAmount && !hasData {
			return model.RecordToken
		}
		return model.RecordNFT
	case tokenish:
		return model.RecordToken
	case nftish:
		return model.RecordNFT
	}
	return model.RecordNone
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
