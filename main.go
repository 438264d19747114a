// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/petervdpas/profileshare/internal/app"
	"github.com/petervdpas/profileshare/internal/config"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("profileshare v%s\n", appVersion)
		return
	}

	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	command := args[0]

	switch command {
	case "peer":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: peer command requires directory path")
			fmt.Fprintln(os.Stderr, "Usage: profileshare peer <peer-directory>")
			os.Exit(1)
		}
		runCLIPeer(args[1])

	case "init":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: init command requires directory path")
			fmt.Fprintln(os.Stderr, "Usage: profileshare init <peer-directory>")
			os.Exit(1)
		}
		runCLIInit(args[1])

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

func runCLIInit(peerDirArg string) {
	absDir, err := filepath.Abs(peerDirArg)
	if err != nil {
		log.Fatalf("Invalid peer directory: %v", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		log.Fatalf("Create peer directory: %v", err)
	}

	cfgPath := filepath.Join(absDir, config.FileName)
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to create config: %v", err)
	}
	if created {
		fmt.Printf("Created %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}
	fmt.Printf("Profile ID: %s\n", cfg.Profile.ID)
	fmt.Printf("Name:       %s\n", cfg.Profile.Name)
}

func runCLIPeer(peerDirArg string) {
	absDir, err := filepath.Abs(peerDirArg)
	if err != nil {
		log.Fatalf("Invalid peer directory: %v", err)
	}

	if stat, err := os.Stat(absDir); err != nil || !stat.IsDir() {
		log.Fatalf("Peer directory does not exist: %s", absDir)
	}

	if err := config.LoadDotEnv(absDir); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}

	cfgPath := filepath.Join(absDir, config.FileName)
	cfg, _, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	overridden, err := config.ApplyEnv(&cfg)
	if err != nil {
		log.Fatalf("Invalid environment override: %v", err)
	}

	printPeerBanner(absDir, cfgPath, cfg, overridden)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := app.Run(ctx, app.Options{
		PeerDir: absDir,
		CfgPath: cfgPath,
		Cfg:     cfg,
	}); err != nil {
		log.Fatalf("Peer failed: %v", err)
	}
}

func showUsage() {
	fmt.Println("profileshare - share a profile card with nearby peers")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  profileshare init <directory>   Create a peer directory with a default config")
	fmt.Println("  profileshare peer <directory>   Run a peer")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init <directory>")
	fmt.Println("        Create the directory and write " + config.FileName)
	fmt.Println()
	fmt.Println("  peer <directory>")
	fmt.Println("        Run a peer from the specified directory")
	fmt.Println("        A missing " + config.FileName + " is created with defaults")
	fmt.Println("        A .env file in the directory is loaded before the config")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  " + config.EnvHTTPAddr + "    viewer address")
	fmt.Println("  " + config.EnvListenPort + "  libp2p listen port")
	fmt.Println("  " + config.EnvName + "         profile name")
	fmt.Println("  " + config.EnvLogLevel + "          libp2p log level")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  profileshare init ./peers/alice")
	fmt.Println("  profileshare peer ./peers/alice")
}

func printPeerBanner(peerDir, cfgPath string, cfg config.Config, overridden []string) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                  profileshare peer                     ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Peer Directory: %s\n", peerDir)
	fmt.Printf("Config File:    %s\n", cfgPath)
	if cfg.Profile.Name != "" {
		fmt.Printf("Profile Name:   %s\n", cfg.Profile.Name)
	}
	for _, k := range overridden {
		fmt.Printf("Override:       %s\n", k)
	}
	fmt.Println()

	if cfg.Viewer.HTTPAddr != "" {
		_, url := app.NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
		fmt.Printf("🌐 Viewer:  %s\n", url)
		fmt.Println()
	}

	if cfg.Exchange.AutoStart {
		fmt.Println("Sharing starts automatically")
	} else {
		fmt.Println("Sharing is off; POST /api/sharing/start to begin")
	}

	fmt.Println("Starting peer... (Press Ctrl+C to stop)")
	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Println()
}
