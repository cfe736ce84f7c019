// Package facts flattens a client profile and coverage request into the
// typed key->value map the predicate evaluator queries. Absent optional
// data is omitted entirely so rules over it evaluate as unknown rather
// than silently failing.
package facts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"underwriting-workers/internal/models"
)

// FactMap is a flat mapping from dotted field path to a value. A key that
// is present with a nil value means "answered null"; a missing key means
// "unknown". Never mutated once built.
type FactMap map[string]any

// Get returns the value for a field and whether the field is known at all.
func (f FactMap) Get(field string) (any, bool) {
	v, ok := f[field]
	return v, ok
}

// Keys returns the fact keys in sorted order.
func (f FactMap) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Build constructs the fact map for one evaluation run.
//
// Client fields land under "client.*", the declared condition codes under
// "conditions", and questionnaire responses under "{code}.{fieldId}".
// BMI and state are only set when actually provided.
func Build(client *models.ClientProfile) FactMap {
	f := FactMap{
		"client.age":     float64(client.Age),
		"client.gender":  client.Gender,
		"client.tobacco": client.Tobacco,
		"conditions":     client.ConditionCodes(),
	}

	if client.BMI > 0 {
		f["client.bmi"] = client.BMI
	}
	if client.State != "" {
		f["client.state"] = client.State
	}

	for _, cond := range client.Conditions {
		for fieldID, value := range cond.Responses {
			f[fmt.Sprintf("%s.%s", cond.Code, fieldID)] = value
		}
	}

	return f
}

// InputHash produces a deterministic SHA-256 digest of the fact map plus
// the coverage request, for audit records and result caching. Contains no
// raw PHI, only the digest.
func InputHash(f FactMap, request *models.CoverageRequest) string {
	h := sha256.New()

	for _, k := range f.Keys() {
		raw, err := json.Marshal(f[k])
		if err != nil {
			raw = []byte(fmt.Sprintf("%v", f[k]))
		}
		fmt.Fprintf(h, "%s:%s|", k, raw)
	}

	fmt.Fprintf(h, "face:%.2f|", request.FaceAmount)
	if request.TermYears != nil {
		fmt.Fprintf(h, "term:%d|", *request.TermYears)
	}
	if request.ProductType != "" {
		fmt.Fprintf(h, "type:%s|", request.ProductType)
	}

	return hex.EncodeToString(h.Sum(nil))
}
