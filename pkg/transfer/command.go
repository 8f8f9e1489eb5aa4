package transfer

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os/exec"
	"time"

	"github.com/radiocosmology/alpenhorn/pkg/alptypes"
)

// commandTimeout bounds a single transfer attempt; a hung rsync/bbcp is
// killed rather than left to block its worker forever.
const commandTimeout = 6 * time.Hour

// resolveTool picks the transfer command per §4.7 step 2: a local copy
// when source and destination share a host; otherwise bbcp if installed,
// else rsync.
func resolveTool(sourceAddr string, sameHost bool) string {
	if sameHost {
		return "cp"
	}
	if _, err := exec.LookPath("bbcp"); err == nil {
		return "bbcp"
	}
	return "rsync"
}

// buildCommand assembles the argv for tool from fixed, built-in wire
// formats: rsync with --inplace and a
// partial-dir so a killed transfer leaves no half-written final name;
// bbcp with inline MD5 and 16 streams.
func buildCommand(tool string, src alptypes.Node, remotePath, localTemp string) []string {
	switch tool {
	case "bbcp":
		return []string{
			"bbcp", "-f", "-e", "-E", "md5=", "-s", "16",
			fmt.Sprintf("%s@%s:%s", src.Username, src.Address, remotePath),
			localTemp,
		}
	case "cp":
		return []string{"cp", remotePath, localTemp}
	default:
		return []string{
			"rsync", "-aH", "--inplace", "--partial-dir=.alpenhorn_partial",
			fmt.Sprintf("%s@%s:%s", src.Username, src.Address, remotePath),
			localTemp,
		}
	}
}

// runCommand executes argv, tees stderr to logger one line at a time (the
// same shape as the corpus's long-lived child process controller,
// simplified here to a single run-to-completion invocation per attempt),
// and enforces commandTimeout by killing the process on expiry.
func runCommand(ctx context.Context, argv []string, logger *log.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("transfer: StderrPipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("transfer: start %s: %w", argv[0], err)
	}

	scanner := bufio.NewScanner(stderr)
	go func() {
		for scanner.Scan() {
			logger.Printf("%s: %s", argv[0], scanner.Text())
		}
	}()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("transfer: %s timed out after %s", argv[0], commandTimeout)
		}
		return fmt.Errorf("transfer: %s exited: %w", argv[0], err)
	}

	return nil
}
