// Package server contains misc server utilities: typed JSON payload
// wrappers and the HumanPayload encoder used by the generic HTTP
// layer.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"
)

// BoolT is a wrapper around a bool for json, {'bool': value}
type BoolT struct {
	Bool bool `json:"bool"`
}

// FloatT is a wrapper around a float for json, {'f64': value}
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a wrapper around an int for json, {'int': value}
type IntT struct {
	Int int `json:"int"`
}

// StrT is a wrapper around a string for json, {'str': value}
type StrT struct {
	Str string `json:"str"`
}

// HumanPayload is a struct containing the basic types and their
// encoding logic. Only the slot named by T is valid.
type HumanPayload struct {
	// T holds the type of data actually contained in the payload
	T types.BasicKind

	Bool   bool
	Int    int
	Float  float64
	String string
}

// EncodeAndRespond writes the payload onto w as the matching JSON
// wrapper object.
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var err error
	switch hp.T {
	case types.Bool:
		err = json.NewEncoder(w).Encode(BoolT{Bool: hp.Bool})
	case types.Int:
		err = json.NewEncoder(w).Encode(IntT{Int: hp.Int})
	case types.Float64:
		err = json.NewEncoder(w).Encode(FloatT{F64: hp.Float})
	case types.String:
		err = json.NewEncoder(w).Encode(StrT{Str: hp.String})
	default:
		err = fmt.Errorf("unknown payload type %v", hp.T)
	}
	if err != nil {
		fstr := fmt.Sprintf("error encoding payload to json %q", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
	}
}
