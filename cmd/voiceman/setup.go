package main

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/audioworks/voiceman/internal/config"
	"github.com/audioworks/voiceman/internal/daemon"
	"github.com/audioworks/voiceman/internal/vault"
)

func cmdStart(args []string) {
	foreground := false
	for _, a := range args {
		if a == "--foreground" || a == "-f" {
			foreground = true
		}
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := daemon.Run(cfg, foreground); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func cmdStop() {
	if err := daemon.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "error stopping daemon: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("voiceman stopped")
}

func cmdStatus() {
	if err := daemon.Status(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func cmdSetup(args []string) {
	nonInteractive := false
	for _, a := range args {
		if a == "--non-interactive" {
			nonInteractive = true
		}
	}

	if nonInteractive {
		cmdInitConfig()
		fmt.Println("Setup complete. Run 'voiceman start' to begin.")
		return
	}

	fmt.Println("voiceman Setup Wizard")
	fmt.Println("=====================")
	fmt.Println()

	cmdInitConfig()

	// Cloud fallback is optional: local kokoro and whisper daemons need no
	// key, so an empty answer just leaves OpenAI unhealthy until a key is
	// added later.
	fmt.Print("\nOpenAI API key for cloud fallback (leave empty to skip): ")
	key, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading key: %v\n", err)
		os.Exit(1)
	}
	if len(key) > 0 {
		if err := vault.New().Set("openai", string(key)); err != nil {
			fmt.Fprintf(os.Stderr, "error storing key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("OpenAI key stored")
	}

	fmt.Println("\nLocal providers (kokoro on :8880, whisper on :2022) are probed")
	fmt.Println("automatically; start them before 'voiceman start' if you want")
	fmt.Println("local-first routing.")
	fmt.Println()
	fmt.Println("Setup complete. Run 'voiceman start' to begin.")
}

func cmdInitConfig() {
	if err := config.InitConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "error generating config: %v\n", err)
		os.Exit(1)
	}
}

func cmdConfigExport(args []string) {
	path := "voiceman-export.toml"
	if len(args) > 0 {
		path = args[0]
	}
	config.Load("")
	if err := config.ExportConfig(path); err != nil {
		fmt.Fprintf(os.Stderr, "error exporting config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config exported to %s\n", path)
}
