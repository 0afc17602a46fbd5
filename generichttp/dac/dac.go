// Package dac exposes a streaming DAC session over HTTP.
//
// This is not the data path; samples come from the source configured
// at server construction. The routes cover clocking, mode and channel
// setup, session start/stop and the status counters a remote client
// needs to supervise a stream.
package dac

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"goji.io/pat"

	"github.com/osmo-rf/gofl2k/fl2k"
	"github.com/osmo-rf/gofl2k/generichttp"
)

// StreamingDAC is the device model: an fl2k session, or anything that
// quacks like one.
type StreamingDAC interface {
	// SampleRate returns the achieved DAC clock in Hz
	SampleRate() uint32

	// SetSampleRate tunes the DAC clock to the closest achievable
	// rate and returns it
	SetSampleRate(uint32) (uint32, error)

	// Mode returns the current operating mode
	Mode() fl2k.Mode

	// SetMode switches between multichannel and palette output
	SetMode(fl2k.Mode) error

	// SetEnabledChannels selects the DACs driven in palette mode
	SetEnabledChannels(uint8) error

	// Underflows returns the cumulative stale-buffer count
	Underflows() uint32

	// Lost reports device disappearance
	Lost() bool

	// Streaming reports whether a session is running
	Streaming() bool

	// StartTx begins streaming from a sample source
	StartTx(fl2k.SampleSource, interface{}, int) error

	// StopTx requests the end of the session
	StopTx() error

	// I2CRead reads a word from a slave register over the monitor bus
	I2CRead(byte, byte, []byte) error

	// I2CWrite writes a word to a slave register over the monitor bus
	I2CWrite(byte, byte, []byte) error
}

// HTTPDAC wraps a StreamingDAC and a sample source with an HTTP route
// table.
type HTTPDAC struct {
	StreamingDAC

	// Source feeds sessions started over HTTP
	Source fl2k.SampleSource

	RouteTable generichttp.RouteTable
}

// NewHTTPDAC returns a new HTTP wrapper with the route table
// pre-configured.
func NewHTTPDAC(d StreamingDAC, src fl2k.SampleSource) HTTPDAC {
	w := HTTPDAC{StreamingDAC: d, Source: src}
	rt := generichttp.RouteTable{
		pat.Get("/sample-rate"):  generichttp.GetInt(func() (int, error) { return int(d.SampleRate()), nil }),
		pat.Post("/sample-rate"): SetSampleRate(d),
		pat.Get("/mode"):         generichttp.GetString(func() (string, error) { return modeString(d.Mode()), nil }),
		pat.Post("/mode"):        generichttp.SetString(setMode(d)),
		pat.Post("/channels"):    Channels(d),
		pat.Get("/underflows"):   generichttp.GetInt(func() (int, error) { return int(d.Underflows()), nil }),
		pat.Get("/device-lost"):  generichttp.GetBool(func() (bool, error) { return d.Lost(), nil }),
		pat.Get("/streaming"):    generichttp.GetBool(func() (bool, error) { return d.Streaming(), nil }),
		pat.Post("/start"):       w.start,
		pat.Post("/stop"):        Stop(d),
		pat.Get("/i2c/:addr/:reg"):  I2CRead(d),
		pat.Post("/i2c/:addr/:reg"): I2CWrite(d),
	}
	w.RouteTable = rt
	return w
}

// RT satisfies the HTTPer interface
func (h HTTPDAC) RT() generichttp.RouteTable {
	return h.RouteTable
}

func modeString(m fl2k.Mode) string {
	if m == fl2k.ModeSingleChan {
		return "single"
	}
	return "multi"
}

// SetSampleRate returns an HTTP handlerfunc that tunes the DAC clock
// from json {'int': hz} and responds with the achieved rate as
// {'int': achievedHz}
func SetSampleRate(d StreamingDAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input := struct {
			Int int `json:"int"`
		}{}
		err := json.NewDecoder(r.Body).Decode(&input)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if input.Int <= 0 {
			http.Error(w, "sample rate must be positive", http.StatusBadRequest)
			return
		}
		achieved, err := d.SetSampleRate(uint32(input.Int))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Int int `json:"int"`
		}{Int: int(achieved)})
	}
}

func setMode(d StreamingDAC) func(string) error {
	return func(s string) error {
		switch s {
		case "multi":
			return d.SetMode(fl2k.ModeMultiChan)
		case "single":
			return d.SetMode(fl2k.ModeSingleChan)
		}
		return fmt.Errorf("unknown mode %q, use multi or single", s)
	}
}

type channelMask struct {
	R bool `json:"r"`
	G bool `json:"g"`
	B bool `json:"b"`
}

// Channels returns an HTTP handlerfunc that sets the enabled channel
// mask from json {'r': bool, 'g': bool, 'b': bool}
func Channels(d StreamingDAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input channelMask
		err := json.NewDecoder(r.Body).Decode(&input)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var mask uint8
		if input.R {
			mask |= fl2k.ChanR
		}
		if input.G {
			mask |= fl2k.ChanG
		}
		if input.B {
			mask |= fl2k.ChanB
		}
		err = d.SetEnabledChannels(mask)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// start begins a streaming session with json {'int': bufferCount}
// (zero selects the default depth) from the configured source.
func (h HTTPDAC) start(w http.ResponseWriter, r *http.Request) {
	input := struct {
		Int int `json:"int"`
	}{}
	// an empty body means the default depth
	json.NewDecoder(r.Body).Decode(&input)
	defer r.Body.Close()
	if h.Source == nil {
		http.Error(w, "no sample source configured", http.StatusInternalServerError)
		return
	}
	err := h.StartTx(h.Source, nil, input.Int)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Stop returns an HTTP handlerfunc that ends the streaming session
func Stop(d StreamingDAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := d.StopTx()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func i2cParams(r *http.Request) (byte, byte, error) {
	addr, err := strconv.ParseUint(pat.Param(r, "addr"), 0, 7)
	if err != nil {
		return 0, 0, fmt.Errorf("slave address: %w", err)
	}
	reg, err := strconv.ParseUint(pat.Param(r, "reg"), 0, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("register address: %w", err)
	}
	return byte(addr), byte(reg), nil
}

// I2CRead returns an HTTP handlerfunc that reads a word from a slave
// on the monitor I2C bus, responding with json {'str': hexbytes}
func I2CRead(d StreamingDAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, reg, err := i2cParams(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		buf := make([]byte, 4)
		if err := d.I2CRead(addr, reg, buf); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Str string `json:"str"`
		}{Str: hex.EncodeToString(buf)})
	}
}

// I2CWrite returns an HTTP handlerfunc that writes a word, supplied as
// json {'str': hexbytes}, to a slave on the monitor I2C bus
func I2CWrite(d StreamingDAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, reg, err := i2cParams(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		input := struct {
			Str string `json:"str"`
		}{}
		err = json.NewDecoder(r.Body).Decode(&input)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		buf, err := hex.DecodeString(input.Str)
		if err != nil || len(buf) != 4 {
			http.Error(w, "payload must be 4 hex-encoded bytes", http.StatusBadRequest)
			return
		}
		if err := d.I2CWrite(addr, reg, buf); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
