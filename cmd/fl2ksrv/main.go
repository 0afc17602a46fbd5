// fl2ksrv serves FL2000 DAC adapters over HTTP so clients in any
// language can control streaming sessions with plain requests.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number. Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "fl2ksrv.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:    ":8000",
		Devices: []DeviceSetup{}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `fl2ksrv drives FL2000 USB-VGA adapters as DACs and exposes an HTTP
interface to them. This enables a server-client architecture, and the
clients can leverage the excellent HTTP libraries for any programming
language.

Usage:
	fl2ksrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `fl2ksrv is amenable to configuration via its .yaml file.  For a primer
on YAML, see https://yaml.org/start.html

Without a configuration, the server will close immediately and display
an error that there are no devices.

No two devices can share an endpoint.

Each device entry has:
- Index:    enumeration index of the adapter (0 is the first one)
- Endpoint: URL stem for the device's routes
- Source:   "square" (default), "tcp://host:port", a raw sample file
            path, or a .wav file path
- Signed:   raw/TCP samples are signed 8 bit
- Repeat:   rewind file sources at EOF

Device routes include sample-rate, mode, channels, start, stop,
underflows, device-lost, streaming, i2c/:addr/:reg and lock.  POST a
{"bool": true} to lock to take exclusive use of a device.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("fl2ksrv version %v\n", Version)
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	mux, err := BuildMux(c)
	if err != nil {
		log.Fatal(err)
	}
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "version":
		pversion()
		return
	case "run":
		run()
		return
	default:
		root()
	}
}
