package main

import (
	"fmt"
	"os"
	"strings"

	"dispatch-ai/internal/infra/config"
)

func main() {
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\nRun 'dispatch-ai --help' for usage information.\n", err)
		os.Exit(2)
	}

	switch args.command {
	case "", "help":
		showUsage()
		return
	case "serve":
		err = runServe(args)
	case "generate":
		err = runGenerate(args)
	case "batch":
		err = runBatch(args)
	case "models":
		err = runModels(args)
	case "probe":
		err = runProbe(args)
	case "encrypt":
		err = runEncrypt(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'dispatch-ai --help' for usage information.\n", args.command)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", args.command, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`dispatch-ai - text generation gateway with per-bot model fallback

USAGE:
    dispatch-ai COMMAND [FLAGS] [ARGS]

COMMANDS:
    serve                           Run the HTTP API
    generate --bot NAME "prompt"    Generate text for one prompt
    batch --bot NAME p1 p2 ...      Generate text for several prompts
    models [--bot NAME]             Show the candidate list for a bot (or all bots)
    probe                           Check the control server once
    encrypt VALUE                   Encrypt a secret for config.yaml (needs DISPATCHAI_CONFIG_KEY)

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml, or DISPATCHAI_CONFIG)
    --bot NAME         Bot identity
    --task TAG         Task tag recorded with the request
    --                 End of flags; put it before a prompt that starts with "-"

CONFIGURATION:
    Config file: ./config.yaml
    Environment: DISPATCHAI_* variables override config.
                 HF_TOKEN, HF_API_KEY and GEMINI_API_KEY are read when the
                 matching DISPATCHAI_* credential is unset.

EXAMPLES:
    dispatch-ai serve --config /etc/dispatch-ai/config.yaml
    dispatch-ai generate --bot dispatch-summary "Summarise today's bookings"
    dispatch-ai batch --bot invoice-notes --task monthly "note one" "note two"
    dispatch-ai generate --bot weather -- "-5 degrees tonight"
    dispatch-ai models --bot documentation`)
}

// cliArgs is the parsed command line.
type cliArgs struct {
	command    string
	configPath string
	bot        string
	task       string
	positional []string
}

// parseArgs extracts the command, the global flags and positional arguments.
// Flags may appear before or after the command, as "--flag value" or
// "--flag=value". A bare "--" ends flag parsing.
func parseArgs(argv []string) (cliArgs, error) {
	var a cliArgs
	flagsDone := false

	for i := 0; i < len(argv); i++ {
		arg := argv[i]

		if flagsDone || !strings.HasPrefix(arg, "-") || arg == "-" {
			if a.command == "" {
				a.command = arg
			} else {
				a.positional = append(a.positional, arg)
			}
			continue
		}

		if arg == "--" {
			flagsDone = true
			continue
		}
		if arg == "-h" || arg == "--help" {
			a.command = "help"
			return a, nil
		}

		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		var dst *string
		switch name {
		case "config":
			dst = &a.configPath
		case "bot":
			dst = &a.bot
		case "task":
			dst = &a.task
		default:
			return a, fmt.Errorf("unknown flag: %s (use -- before arguments that start with \"-\")", arg)
		}
		if !hasValue {
			if i+1 >= len(argv) {
				return a, fmt.Errorf("flag --%s needs a value", name)
			}
			i++
			value = argv[i]
		}
		*dst = value
	}

	if a.configPath == "" {
		a.configPath = os.Getenv("DISPATCHAI_CONFIG")
	}
	if a.configPath == "" {
		a.configPath = config.DefaultPath
	}
	return a, nil
}
