package main

import (
	"fmt"
	"net"
	"os"

	"github.com/alexcesaro/log"
	"github.com/alexcesaro/log/golog"
	flags "github.com/jessevdk/go-flags"

	"github.com/streamrpc/streamrpc/client"
	"github.com/streamrpc/streamrpc/server"
	"github.com/streamrpc/streamrpc/wire"
)

// Version of the binary, assigned during build.
var Version string = "dev"

// Options contains the flag options
type Options struct {
	Verbose []bool `short:"v" long:"verbose" description:"Show verbose logging."`
	Version bool   `long:"version" description:"Print version and exit."`

	Server struct {
		Bind     string `long:"bind" description:"Address and port to listen on." default:"0.0.0.0:9090"`
		Encoding string `long:"encoding" description:"Frame encoding. (binary|json)" default:"binary"`
		Backend  string `long:"backend" description:"Websocket backend. (gorilla|gobwas)" default:"gorilla"`
	} `command:"server" description:"Start an example even-odd RPC server."`

	Client struct {
		Args struct {
			URL string `positional-arg-name:"url" description:"Websocket URL of the server." default:"ws://127.0.0.1:9090/"`
		} `positional-args:"yes"`
		Encoding string `long:"encoding" description:"Frame encoding. (binary|json)" default:"binary"`
		Backend  string `long:"backend" description:"Websocket backend. (gorilla|gobwas)" default:"gorilla"`
		Value    uint64 `long:"value" description:"Value to classify as even or odd." default:"4"`
	} `command:"client" description:"Connect to an even-odd RPC server and make some calls."`
}

var logLevels = []log.Level{
	log.Warning,
	log.Info,
	log.Debug,
}

// verbosityLevel maps the count of -v flags to a log level, clamping at
// the most verbose.
func verbosityLevel(numVerbose int) log.Level {
	if numVerbose >= len(logLevels) {
		numVerbose = len(logLevels) - 1
	}
	return logLevels[numVerbose]
}

func parseEncoding(s string) (wire.Encoding, error) {
	enc, err := wire.ParseEncoding(s)
	if err != nil {
		return enc, ErrExplain{err, `Supported encodings are "binary" and "json".`}
	}
	return enc, nil
}

func subcommand(cmd string, options Options) error {
	switch cmd {
	case "server":
		return runServer(options)
	case "client":
		return runClient(options)
	}
	return fmt.Errorf("unknown command: %s", cmd)
}

func main() {
	options := Options{}
	parser := flags.NewParser(&options, flags.Default)
	p, err := parser.Parse()
	if err != nil {
		if p == nil {
			fmt.Println(err)
		}
		return
	}

	if options.Version {
		fmt.Println(Version)
		os.Exit(0)
	}

	// Figure out the log level
	logLevel := verbosityLevel(len(options.Verbose))
	logWriter := os.Stderr

	SetLogger(golog.New(logWriter, logLevel))
	if logLevel == log.Debug {
		// Enable logging from subpackages
		client.SetLogger(logWriter)
		server.SetLogger(logWriter)
	}

	cmd := "client"
	if parser.Active != nil {
		cmd = parser.Active.Name
	}
	err = subcommand(cmd, options)
	if err == nil {
		return
	}

	switch err.(type) {
	case net.Error:
		err = ErrExplain{err, `Disconnected from the server unexpectedly. Could be a connectivity issue or the server is down. Try again?`}
	case ErrExplain:
		// All good.
	default:
		if werr, ok := err.(*wire.Error); ok {
			err = ErrExplain{werr, `The server rejected the call. Check that both sides use the same encoding and operation names.`}
		}
	}

	exit(2, "%s failed: %s\n", cmd, err)
}

func exit(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(code)
}

// ErrExplain annotates an error with an explanation.
type ErrExplain struct {
	Cause       error
	Explanation string
}

func (err ErrExplain) Error() string {
	return fmt.Sprintf("%s\n -> %s", err.Cause, err.Explanation)
}
