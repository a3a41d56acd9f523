package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/lojinha/chatd/internal/config"
	"github.com/lojinha/chatd/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "init":
		cmdInit(name)
	case "config":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatctl config <show|set>")
			os.Exit(1)
		}
		cmdConfig(name, args[1:], *jsonFlag)
	case "default-profile":
		cmdDefaultProfile(args[1:])
	case "profiles":
		cmdProfiles(*jsonFlag)
	case "paths":
		cmdPaths(name, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  init                     Create a skeleton profile config")
	fmt.Fprintln(os.Stderr, "  config show              Show the profile config")
	fmt.Fprintln(os.Stderr, "  config set <key> <val>   Set a profile config key")
	fmt.Fprintln(os.Stderr, "  default-profile [name]   Show or set the default profile")
	fmt.Fprintln(os.Stderr, "  profiles                 List known profiles")
	fmt.Fprintln(os.Stderr, "  paths                    Print the profile's paths")
}

func cmdInit(name string) {
	path := profile.ConfigPath(name)
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "error: %s already exists\n", path)
		os.Exit(1)
	}
	cfg := &config.Config{
		APIBaseURL:           "https://api.example.com/v1",
		GatewayURL:           "wss://api.example.com/ws",
		ReconnectDelayMS:     config.DefaultReconnectDelayMS,
		TypingWindowMS:       config.DefaultTypingWindowMS,
		HistoryPageSize:      config.DefaultHistoryPageSize,
		MaxReconnectAttempts: 0,
	}
	if err := config.Save(path, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", path)
	fmt.Println("Edit it to set api_base_url, gateway_url and token.")
}

func cmdConfig(name string, args []string, jsonOut bool) {
	path := profile.ConfigPath(name)
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot load %s: %v\n", path, err)
		fmt.Fprintln(os.Stderr, "hint: run 'chatctl init' first")
		os.Exit(1)
	}

	switch args[0] {
	case "show":
		if jsonOut {
			outputJSON(cfg)
			return
		}
		fmt.Printf("api_base_url:           %s\n", cfg.APIBaseURL)
		fmt.Printf("gateway_url:            %s\n", cfg.GatewayURL)
		fmt.Printf("token:                  %s\n", maskToken(cfg.Token))
		fmt.Printf("token_file:             %s\n", cfg.TokenFile)
		fmt.Printf("reconnect_delay_ms:     %d\n", cfg.ReconnectDelayMS)
		fmt.Printf("max_reconnect_attempts: %d\n", cfg.MaxReconnectAttempts)
		fmt.Printf("typing_window_ms:       %d\n", cfg.TypingWindowMS)
		fmt.Printf("history_page_size:      %d\n", cfg.HistoryPageSize)
	case "set":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: chatctl config set <key> <value>")
			os.Exit(1)
		}
		if err := setKey(cfg, args[1], args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if err := config.Save(path, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Set %s\n", args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown config subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func setKey(cfg *config.Config, key, val string) error {
	switch key {
	case "api_base_url":
		cfg.APIBaseURL = val
	case "gateway_url":
		cfg.GatewayURL = val
	case "token":
		cfg.Token = val
	case "token_file":
		cfg.TokenFile = val
	case "reconnect_delay_ms", "max_reconnect_attempts", "typing_window_ms", "history_page_size":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s wants an integer, got %q", key, val)
		}
		switch key {
		case "reconnect_delay_ms":
			cfg.ReconnectDelayMS = n
		case "max_reconnect_attempts":
			cfg.MaxReconnectAttempts = n
		case "typing_window_ms":
			cfg.TypingWindowMS = n
		case "history_page_size":
			cfg.HistoryPageSize = n
		}
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

func maskToken(token string) string {
	if token == "" {
		return "(unset)"
	}
	if len(token) <= 8 {
		return "********"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func cmdDefaultProfile(args []string) {
	path := profile.GlobalConfigPath()
	if len(args) == 0 {
		g, err := config.LoadGlobal(path)
		if err != nil || g.DefaultProfile == "" {
			fmt.Println("main")
			return
		}
		fmt.Println(g.DefaultProfile)
		return
	}
	name := args[0]
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := config.SaveGlobal(path, &config.Global{DefaultProfile: name}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Default profile set to %s\n", name)
}

func cmdProfiles(jsonOut bool) {
	entries, err := os.ReadDir(filepath.Join(profile.BaseDir(), "profiles"))
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No profiles found.")
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if jsonOut {
		outputJSON(names)
		return
	}
	if len(names) == 0 {
		fmt.Println("No profiles found.")
		return
	}
	for _, n := range names {
		configured := "no config"
		if _, err := os.Stat(profile.ConfigPath(n)); err == nil {
			configured = "configured"
		}
		fmt.Printf("%-20s %s\n", n, configured)
	}
}

func cmdPaths(name string, jsonOut bool) {
	paths := map[string]string{
		"dir":    profile.Dir(name),
		"config": profile.ConfigPath(name),
		"lock":   profile.LockPath(name),
		"log":    profile.LogPath(name),
	}
	if jsonOut {
		outputJSON(paths)
		return
	}
	fmt.Printf("dir:    %s\n", paths["dir"])
	fmt.Printf("config: %s\n", paths["config"])
	fmt.Printf("lock:   %s\n", paths["lock"])
	fmt.Printf("log:    %s\n", paths["log"])
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
