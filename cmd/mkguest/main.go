// Package main is mkguest, a helper that assembles a guest directory
// openhv can boot directly: it validates the bzImage boot header,
// copies the kernel and optional initrd into an output directory, and
// writes the command line openhv will stage into guest memory.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openhv/openhv/internal/bootparam"
	"github.com/openhv/openhv/internal/config"
)

const (
	kernelFileName  = "bzImage"
	initrdFileName  = "initrd"
	cmdlineFileName = "cmdline"
)

var cfg config.MkGuest

var rootCmd = &cobra.Command{
	Use:   "mkguest",
	Short: "assemble a guest directory from a kernel and optional initrd",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&cfg.KernelPath, "kernel", "", "path to a bzImage kernel (required)")
	flags.StringVar(&cfg.InitrdPath, "initrd", "", "path to an initrd image (optional)")
	flags.StringVar(&cfg.OutDir, "out", "", "output directory to assemble the guest into (required)")
	flags.StringVar(&cfg.CmdLine, "cmdline", "console=ttyS0", "kernel command line to record")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	bzImage, err := os.ReadFile(cfg.KernelPath)
	if err != nil {
		return fmt.Errorf("mkguest: reading kernel image: %w", err)
	}
	header, err := bootparam.ParseHeader(bzImage)
	if err != nil {
		return fmt.Errorf("mkguest: %s does not look like a bootable bzImage: %w", cfg.KernelPath, err)
	}
	fmt.Printf("protocol version %d.%02d, setup_sects=%d, protected-mode code at offset %#x\n",
		header.ProtocolVersion>>8, header.ProtocolVersion&0xFF, header.SetupSects, header.ProtectedCodeOffset())

	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("mkguest: creating output directory: %w", err)
	}

	if err := copyFile(cfg.KernelPath, filepath.Join(cfg.OutDir, kernelFileName)); err != nil {
		return fmt.Errorf("mkguest: %w", err)
	}

	if cfg.InitrdPath != "" {
		if err := copyFile(cfg.InitrdPath, filepath.Join(cfg.OutDir, initrdFileName)); err != nil {
			return fmt.Errorf("mkguest: %w", err)
		}
	}

	cmdlinePath := filepath.Join(cfg.OutDir, cmdlineFileName)
	if err := os.WriteFile(cmdlinePath, []byte(cfg.CmdLine+"\n"), 0o644); err != nil {
		return fmt.Errorf("mkguest: writing %s: %w", cmdlineFileName, err)
	}

	fmt.Printf("guest assembled in %s\n", cfg.OutDir)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return out.Close()
}
