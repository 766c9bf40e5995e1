package arf

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/secure-element/pkg/cardlink"
	"github.com/gregLibert/secure-element/pkg/iso7816"
	"github.com/gregLibert/secure-element/pkg/simcard"
	"github.com/gregLibert/secure-element/pkg/tlv"
	"github.com/rs/zerolog"
)

var (
	hash1   = tlv.Hex("0102030405060708090A0B0C0D0E0F1011121314")
	hash2   = tlv.Hex("AABBCCDDEEFF00112233445566778899AABBCCDD")
	applet1 = tlv.Hex("A00000015100")
	applet2 = tlv.Hex("A00000015101")
	tagV1   = tlv.Hex("0000000000000001")
	tagV2   = tlv.Hex("0000000000000002")
)

func defaultFiles() map[string][]byte {
	return simcard.BuildARF(tagV1, []simcard.ARFRule{
		{AID: applet1, Condition: "4310"},
		{Condition: "4311"},
	}, map[string][]byte{
		"4310": simcard.Pad(simcard.HashCondition(hash1), 64),
		"4311": simcard.AllowAllCondition(),
	})
}

func newTestReader(files map[string][]byte) (*Reader, *simcard.Card) {
	card := simcard.New()
	card.Install(simcard.PKCS15AID, files)
	return NewReader(cardlink.NewPCSC(card)), card
}

func TestReader_Refresh(t *testing.T) {
	for _, t0 := range []bool{false, true} {
		reader, card := newTestReader(defaultFiles())
		card.T0 = t0

		got, err := reader.Refresh()
		if err != nil {
			t.Fatalf("T0=%v: Refresh failed: %v", t0, err)
		}

		want := RuleSet{
			Rules: []Rule{
				{Applet: AppletAID(applet1), Application: Application{Kind: Hashes, Hashes: [][]byte{hash1}}},
				{Applet: AllApplets(), Application: Application{Kind: AllowedAll}},
			},
			RefreshTag: tagV1,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("T0=%v: RuleSet mismatch (-want +got):\n%s", t0, diff)
		}
		if reader.State() != StateDone {
			t.Errorf("T0=%v: State() = %s, want done", t0, reader.State())
		}
		if card.OpenChannels() != 0 {
			t.Errorf("T0=%v: rule channel left open", t0)
		}
	}
}

func TestReader_FileHook(t *testing.T) {
	card := simcard.New()
	card.Install(simcard.PKCS15AID, defaultFiles())

	var paths []string
	var rendered []string
	reader := NewReader(cardlink.NewPCSC(card), WithFileHook(func(path []byte, content *tlv.Node) {
		paths = append(paths, fmt.Sprintf("%X", path))
		rendered = append(rendered, tlv.Describe(content))
	}))

	if _, err := reader.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	want := []string{simcard.ODFPath, simcard.DODFPath, simcard.ACMFPath, simcard.ACRulesPath, "4310", "4311"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("Hooked paths mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(rendered[4], "04 (20): "+fmt.Sprintf("%X", hash1)) {
		t.Errorf("Condition file rendering misses the hash:\n%s", rendered[4])
	}
}

func TestReader_TraceReports(t *testing.T) {
	previous := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(previous) })

	card := simcard.New()
	card.Install(simcard.PKCS15AID, defaultFiles())

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.TraceLevel)
	if _, err := NewReader(cardlink.NewPCSC(card), WithLogger(logger)).Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	for _, want := range []string{"SELECT COMMAND REPORT", "READ BINARY COMMAND REPORT", `"path":"5031"`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Trace log misses %q", want)
		}
	}

	buf.Reset()
	card.ResetLog()
	if _, err := NewReader(cardlink.NewPCSC(card), WithLogger(logger.Level(zerolog.DebugLevel))).Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if strings.Contains(buf.String(), "COMMAND REPORT") {
		t.Error("Exchange reports logged above trace level")
	}
}

func TestReader_RefreshTagCache(t *testing.T) {
	reader, card := newTestReader(defaultFiles())

	if _, err := reader.Refresh(); err != nil {
		t.Fatalf("First Refresh failed: %v", err)
	}
	if n := card.Count(iso7816.INS_READ_BINARY); n != 6 {
		t.Errorf("First read: %d READ BINARY, want 6", n)
	}

	// Same refresh tag: stop after the ACMF.
	card.ResetLog()
	cached, err := reader.Refresh()
	if err != nil {
		t.Fatalf("Cached Refresh failed: %v", err)
	}
	if n := card.Count(iso7816.INS_READ_BINARY); n != 3 {
		t.Errorf("Cached read: %d READ BINARY, want 3 (ODF, DODF, ACMF)", n)
	}
	if n := card.Count(iso7816.INS_SELECT); n != 4 {
		t.Errorf("Cached read: %d SELECT, want 4", n)
	}
	if len(cached.Rules) != 2 {
		t.Errorf("Cached read returned %d rules, want 2", len(cached.Rules))
	}

	// New policy under a new tag: full read. The deny-all condition file is
	// empty, so it is selected but never read.
	card.Install(simcard.PKCS15AID, simcard.BuildARF(tagV2, []simcard.ARFRule{
		{AID: applet2, Condition: "4312"},
	}, map[string][]byte{"4312": simcard.DenyAllCondition()}))
	card.ResetLog()

	updated, err := reader.Refresh()
	if err != nil {
		t.Fatalf("Updated Refresh failed: %v", err)
	}
	if n := card.Count(iso7816.INS_READ_BINARY); n != 4 {
		t.Errorf("Updated read: %d READ BINARY, want 4", n)
	}
	want := RuleSet{
		Rules:      []Rule{{Applet: AppletAID(applet2), Application: Application{Kind: DeniedAll}}},
		RefreshTag: tagV2,
	}
	if diff := cmp.Diff(want, updated); diff != "" {
		t.Errorf("Updated RuleSet mismatch (-want +got):\n%s", diff)
	}
}

func TestReader_ConditionFilesReadOnce(t *testing.T) {
	files := simcard.BuildARF(tagV1, []simcard.ARFRule{
		{AID: applet1, Condition: "4310"},
		{AID: applet2, Condition: "4310"},
		{Condition: "4310"},
	}, map[string][]byte{"4310": simcard.HashCondition(hash1, hash2)})
	reader, card := newTestReader(files)

	got, err := reader.Refresh()
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if n := card.Count(iso7816.INS_READ_BINARY); n != 5 {
		t.Errorf("%d READ BINARY, want 5 (shared condition read once)", n)
	}
	for i, r := range got.Rules {
		if !r.Application.Contains(hash2) {
			t.Errorf("Rule %d is missing the shared hashes", i)
		}
	}
}

func TestReader_LargeFileIsChunked(t *testing.T) {
	var rules []simcard.ARFRule
	for i := 0; i < 20; i++ {
		rules = append(rules, simcard.ARFRule{AID: append(tlv.Hex("A000000151"), byte(i)), Condition: "4310"})
	}
	files := simcard.BuildARF(tagV1, rules, map[string][]byte{"4310": simcard.AllowAllCondition()})
	files[simcard.ACRulesPath] = simcard.Pad(files[simcard.ACRulesPath], 600)
	reader, card := newTestReader(files)

	got, err := reader.Refresh()
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(got.Rules) != 20 {
		t.Errorf("Got %d rules, want 20", len(got.Rules))
	}
	// ODF, DODF, ACMF, condition: one each. ACRules: 600 bytes in three chunks.
	if n := card.Count(iso7816.INS_READ_BINARY); n != 7 {
		t.Errorf("%d READ BINARY, want 7", n)
	}
}

func TestReader_PathFromMF(t *testing.T) {
	files := defaultFiles()
	files[simcard.ODFPath] = simcard.ODF("3F004300")
	files["3F004300"] = files[simcard.DODFPath]
	delete(files, simcard.DODFPath)
	reader, _ := newTestReader(files)

	if _, err := reader.Refresh(); err != nil {
		t.Fatalf("Refresh with an MF path failed: %v", err)
	}
}

func TestReader_FailClosed(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(files map[string][]byte)
		wantErr error
	}{
		{
			name:    "Two ACMF entries in DODF",
			mutate:  func(f map[string][]byte) { f[simcard.DODFPath] = simcard.DODF(simcard.ACMFPath, simcard.ACMFPath) },
			wantErr: ErrProtocol,
		},
		{
			name:    "No ACMF entry in DODF",
			mutate:  func(f map[string][]byte) { f[simcard.DODFPath] = simcard.DODF() },
			wantErr: ErrProtocol,
		},
		{
			name:    "ODF without DODF pointer",
			mutate:  func(f map[string][]byte) { f[simcard.ODFPath] = tlv.Hex("A8 06 30 04 04 02 4300") },
			wantErr: ErrProtocol,
		},
		{
			name:    "Missing condition file",
			mutate:  func(f map[string][]byte) { delete(f, "4310") },
			wantErr: ErrProtocol,
		},
		{
			name: "APDU filter in condition",
			mutate: func(f map[string][]byte) {
				f["4310"] = tlv.Hex("30 1A 04 14 0102030405060708090A0B0C0D0E0F1011121314 A0 02 00 00")
			},
			wantErr: ErrProtocol,
		},
		{
			name:    "Condition hash without entry",
			mutate:  func(f map[string][]byte) { f["4311"] = tlv.Hex("04 14 0102030405060708090A0B0C0D0E0F1011121314") },
			wantErr: ErrProtocol,
		},
		{
			name:    "Short hash",
			mutate:  func(f map[string][]byte) { f["4310"] = simcard.HashCondition(tlv.Hex("0102")) },
			wantErr: ErrProtocol,
		},
		{
			name: "Rule without applet",
			mutate: func(f map[string][]byte) {
				f[simcard.ACRulesPath] = tlv.Hex("30 06 30 04 04 02 4310")
			},
			wantErr: ErrProtocol,
		},
		{
			name:    "ACMF without refresh tag",
			mutate:  func(f map[string][]byte) { f[simcard.ACMFPath] = tlv.Hex("30 06 30 04 04 02 4302") },
			wantErr: ErrProtocol,
		},
		{
			name:    "No PKCS#15 application",
			mutate:  nil,
			wantErr: ErrCardLink,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := defaultFiles()
			card := simcard.New()
			if tt.mutate != nil {
				tt.mutate(files)
				card.Install(simcard.PKCS15AID, files)
			}
			reader := NewReader(cardlink.NewPCSC(card))

			got, err := reader.Refresh()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Refresh() error = %v, want %v", err, tt.wantErr)
			}
			if !got.IsEmpty() || got.RefreshTag != nil {
				t.Errorf("Failed read must return an empty set, got %+v", got)
			}
			if reader.State() != StateFailed {
				t.Errorf("State() = %s, want failed", reader.State())
			}
			if card.OpenChannels() != 0 {
				t.Error("Rule channel left open after failure")
			}
		})
	}
}

func TestReader_FailureClearsCache(t *testing.T) {
	reader, card := newTestReader(defaultFiles())
	if _, err := reader.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	card.FailWith(iso7816.INS_READ_BINARY, iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT)
	if _, err := reader.Refresh(); !errors.Is(err, ErrProtocol) {
		t.Fatalf("Refresh with failing card: err = %v, want ErrProtocol", err)
	}

	// The tag did not change but the cache is gone: full read again.
	card.FailWith(iso7816.INS_READ_BINARY, iso7816.SW_NO_ERROR)
	card.ResetLog()
	got, err := reader.Refresh()
	if err != nil {
		t.Fatalf("Refresh after recovery failed: %v", err)
	}
	if n := card.Count(iso7816.INS_READ_BINARY); n != 6 {
		t.Errorf("%d READ BINARY after failure, want 6", n)
	}
	if len(got.Rules) != 2 {
		t.Errorf("Got %d rules, want 2", len(got.Rules))
	}
}

// brokenLink fails every transmission after a number of them went through.
type brokenLink struct {
	cardlink.Link
	remaining int
}

func (b *brokenLink) Transmit(channel uint8, cmd []byte) ([]byte, error) {
	if b.remaining == 0 {
		return nil, errors.New("reader unplugged")
	}
	b.remaining--
	return b.Link.Transmit(channel, cmd)
}

func TestReader_TransmitFailure(t *testing.T) {
	card := simcard.New()
	card.Install(simcard.PKCS15AID, defaultFiles())
	link := &brokenLink{Link: cardlink.NewPCSC(card), remaining: 3}

	reader := NewReader(link)
	if _, err := reader.Refresh(); !errors.Is(err, ErrCardLink) {
		t.Fatalf("Refresh() error = %v, want ErrCardLink", err)
	}
	if card.OpenChannels() != 0 {
		t.Error("Rule channel left open after a link failure")
	}
}

func TestState_String(t *testing.T) {
	if StateAwaitConditions.String() != "await-conditions" {
		t.Errorf("got %q", StateAwaitConditions.String())
	}
	if State(99).String() != "State(99)" {
		t.Errorf("got %q", State(99).String())
	}
}
