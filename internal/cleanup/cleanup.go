// Package cleanup implements the module cleanup ledger: a per-module
// list of freespace addresses to reclaim on reinsertion.
package cleanup

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/xerrors"

	"github.com/smw-build/callisto/internal/assembler"
	"github.com/smw-build/callisto/internal/callistoerr"
)

// Read loads the list of decimal SNES addresses recorded for a module at
// ledgerPath. Returns a *callistoerr.MustRebuildError if the ledger file
// does not exist, escalating to a full rebuild.
func Read(ledgerPath string) ([]int, error) {
	f, err := os.Open(ledgerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, callistoerr.NewMustRebuildError(
				"cannot clean module as its cleanup ledger is missing at %s", ledgerPath)
		}
		return nil, xerrors.Errorf("opening module cleanup ledger: %w", err)
	}
	defer f.Close()

	var addresses []int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		addr, err := strconv.Atoi(line)
		if err != nil {
			return nil, xerrors.Errorf("parsing module cleanup ledger %s: %w", ledgerPath, err)
		}
		addresses = append(addresses, addr)
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Errorf("reading module cleanup ledger: %w", err)
	}
	return addresses, nil
}

// Write rewrites a module's ledger with the given decimal SNES addresses,
// one per line, overwriting any previous contents. Called after every
// successful module insertion.
func Write(ledgerPath string, addresses []int) error {
	var b strings.Builder
	for _, addr := range addresses {
		fmt.Fprintf(&b, "%d\n", addr)
	}
	return os.WriteFile(ledgerPath, []byte(b.String()), 0o644)
}

// Clean synthesizes an "autoclean $XXXXXX" source for every address in
// the ledger and assembles it against rom, reclaiming the freespace the
// module previously wrote before it is reinserted.
func Clean(ctx context.Context, asm assembler.Assembler, ledgerPath string, rom []byte) ([]byte, error) {
	addresses, err := Read(ledgerPath)
	if err != nil {
		return nil, err
	}

	var src strings.Builder
	for _, addr := range addresses {
		fmt.Fprintf(&src, "autoclean $%06X\n", addr)
	}

	result, err := asm.Assemble(ctx, assembler.Request{
		SourceName: "cleanup.asm",
		Source:     []byte(src.String()),
		ROM:        rom,
	})
	if err != nil {
		return nil, callistoerr.NewMustRebuildError("failed to clean module, must rebuild: %v", err)
	}
	return result.ROM, nil
}
