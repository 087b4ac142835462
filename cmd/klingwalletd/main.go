// Klingwallet engine daemon.
//
// Usage:
//
//	klingwalletd [--testnet] [--evm-chains=...]  Run the engine
//	klingwalletd --help                          Show help
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/Klingon-tech/klingwallet/config"
	"github.com/Klingon-tech/klingwallet/internal/node"
)

func main() {
	cfg, flags, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if flags.Help {
		config.PrintUsage()
		return
	}
	if flags.Version {
		fmt.Printf("klingwalletd %s\n", config.Version)
		return
	}

	password, err := vaultPassword(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	n, err := node.New(cfg, password)
	for i := range password {
		password[i] = 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		n.Stop()
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
}

// vaultPassword reads the password from the environment, or prompts when
// stdin is a terminal.
func vaultPassword(cfg *config.Config) ([]byte, error) {
	if pw := node.ReadPasswordEnv(cfg); pw != nil {
		return pw, nil
	}
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("vault password not set: export %s or run interactively", cfg.Vault.PasswordEnv)
	}
	fmt.Fprint(os.Stderr, "Vault password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	if len(pw) == 0 {
		return nil, fmt.Errorf("vault password is empty")
	}
	return pw, nil
}
