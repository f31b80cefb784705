// Package server contains misc server utilities.
package server

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/sirupsen/logrus"
)

// FloatT is a struct with a single float64 field, F64
type FloatT struct {
	F64 float64 `json:"f64"`
}

// BoolT is a struct with a single bool field, Bool
type BoolT struct {
	Bool bool `json:"bool"`
}

// StrT is a struct with a single string field, Str
type StrT struct {
	Str string `json:"str"`
}

// HumanPayload is a struct containing the basic types that can be returned
// over HTTP.  T decides which field is encoded.
type HumanPayload struct {
	T      types.BasicKind
	Float  float64
	Bool   bool
	String string
}

// EncodeAndRespond writes the payload to w as JSON of the form
// {"f64": x}, {"bool": x}, or {"str": x}
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var v interface{}
	switch hp.T {
	case types.Float64:
		v = FloatT{F64: hp.Float}
	case types.Bool:
		v = BoolT{Bool: hp.Bool}
	case types.String:
		v = StrT{Str: hp.String}
	default:
		http.Error(w, "unsupported payload type", http.StatusInternalServerError)
		return
	}
	ReplyJSON(w, v)
}

// ReplyJSON encodes v as the body of a 200 response
func ReplyJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("error encoding response: %v", err)
	}
}
