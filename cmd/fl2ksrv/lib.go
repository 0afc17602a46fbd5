package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"goji.io"
	"goji.io/pat"

	"github.com/osmo-rf/gofl2k/fl2k"
	"github.com/osmo-rf/gofl2k/generichttp/dac"
	"github.com/osmo-rf/gofl2k/server/middleware/locker"
	"github.com/osmo-rf/gofl2k/source"
)

// DeviceSetup describes one FL2000 adapter to serve.
type DeviceSetup struct {
	// Index is the enumeration index of the adapter
	Index int `yaml:"Index"`

	// Endpoint is the URL stem the device's routes are served under,
	// ex. Endpoint="lab/dac0" produces routes of /lab/dac0/sample-rate, etc.
	Endpoint string `yaml:"Endpoint"`

	// Source selects the sample source: "square", "tcp://host:port",
	// or a file path (".wav" files are decoded, '-' is not supported
	// in server mode)
	Source string `yaml:"Source"`

	// Signed marks raw file or TCP samples as signed 8 bit
	Signed bool `yaml:"Signed"`

	// Repeat rewinds file sources on EOF
	Repeat bool `yaml:"Repeat"`
}

// Config holds the server's initialization parameters. It is
// populated from defaults and the YAML config file.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// Devices is the list of adapters to serve
	Devices []DeviceSetup `yaml:"Devices"`
}

func buildSource(setup DeviceSetup) (fl2k.SampleSource, io.Closer, error) {
	s := setup.Source
	switch {
	case s == "" || s == "square":
		return source.NewSquare(), nil, nil
	case strings.HasPrefix(s, "tcp://"):
		t := source.NewTCP(strings.TrimPrefix(s, "tcp://"))
		t.Signed = setup.Signed
		return t, t, nil
	case strings.HasSuffix(strings.ToLower(s), ".wav"):
		f, err := os.Open(s)
		if err != nil {
			return nil, nil, err
		}
		w, err := source.NewWAV(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		w.Repeat = setup.Repeat
		return w, f, nil
	default:
		f, err := os.Open(s)
		if err != nil {
			return nil, nil, err
		}
		fs := source.NewFile(f)
		fs.Signed = setup.Signed
		fs.Repeat = setup.Repeat
		return fs, f, nil
	}
}

// BuildMux opens every configured device and assembles the goji mux
// tree: one submux per device with its lock middleware injected.
func BuildMux(c Config) (*goji.Mux, error) {
	root := goji.NewMux()
	if len(c.Devices) == 0 {
		return nil, fmt.Errorf("no devices configured")
	}
	seen := map[string]bool{}
	for _, setup := range c.Devices {
		stem := strings.Trim(setup.Endpoint, "/")
		if stem == "" {
			stem = fmt.Sprintf("fl2k%d", setup.Index)
		}
		if seen[stem] {
			return nil, fmt.Errorf("duplicate endpoint %q", stem)
		}
		seen[stem] = true

		dev, err := fl2k.Open(setup.Index)
		if err != nil {
			return nil, fmt.Errorf("opening device %d: %w", setup.Index, err)
		}
		src, _, err := buildSource(setup)
		if err != nil {
			return nil, fmt.Errorf("device %d source: %w", setup.Index, err)
		}

		httper := dac.NewHTTPDAC(dev, src)
		lock := locker.New()
		locker.Inject(httper, lock)

		mux := goji.SubMux()
		mux.Use(lock.Check)
		httper.RT().Bind(mux)
		root.Handle(pat.New("/"+stem+"/*"), mux)
		log.Printf("device %d (%s) at /%s", setup.Index,
			fl2k.DeviceName(setup.Index), stem)
	}
	return root, nil
}
