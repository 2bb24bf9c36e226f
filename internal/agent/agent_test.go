package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	xerrors "github.com/RosarioB/eliza-nft/internal/errors"
	"github.com/RosarioB/eliza-nft/internal/mint"
	"github.com/RosarioB/eliza-nft/internal/nft"
	"github.com/RosarioB/eliza-nft/internal/observability/alerting"
	"github.com/RosarioB/eliza-nft/internal/storage/memory"
	"github.com/RosarioB/eliza-nft/internal/storage/mysql"
	"github.com/RosarioB/eliza-nft/internal/web3"
)

const (
	testKey       = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testRecipient = "0x20c6F9006d563240031A1388f4f25726029a6368"
)

var testNow = time.UnixMilli(1_736_000_000_000)

type fakeExtractor struct {
	mu     sync.Mutex
	fields nft.Fields
	err    error
	calls  int
	texts  []string
}

func (f *fakeExtractor) Extract(_ context.Context, text string) (nft.Fields, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.texts = append(f.texts, text)
	return f.fields, f.err
}

func (f *fakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeMinter struct {
	calls atomic.Int32
	err   error
	hash  common.Hash
	delay time.Duration
}

func (f *fakeMinter) Mint(_ context.Context, record nft.Record) (mint.Receipt, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return mint.Receipt{}, f.err
	}
	return mint.Receipt{
		TxHash:    f.hash,
		TokenURI:  "ipfs://bafy",
		Recipient: common.HexToAddress(record.Recipient),
		ChainID:   mint.DefaultChainID,
	}, nil
}

type fakeUploader struct {
	err   error
	calls int
}

func (f *fakeUploader) UploadJSON(context.Context, nft.Metadata) (string, error) {
	f.calls++
	return "bafy", f.err
}

type fakeWriter struct {
	hash  common.Hash
	calls int
}

func (f *fakeWriter) WriteContract(context.Context, web3.WriteRequest) (common.Hash, error) {
	f.calls++
	return f.hash, nil
}

type recordingAlerter struct{ events []alerting.Event }

func (r *recordingAlerter) Notify(_ context.Context, e alerting.Event) error {
	r.events = append(r.events, e)
	return nil
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, error) { return nil, errors.New("down") }
func (failingCache) Set(context.Context, string, []byte, time.Time) error {
	return errors.New("down")
}
func (failingCache) Delete(context.Context, string) error { return errors.New("down") }

func newTestAgent(t *testing.T, ex Extractor, m Minter, opts ...Option) (*Agent, *nft.Store) {
	t.Helper()
	clock := func() time.Time { return testNow }
	store := nft.NewStore(memory.NewCacheWithClock(clock), nft.WithClock(clock))
	opts = append([]Option{WithClock(clock)}, opts...)
	return New("Minty", store, ex, m, opts...), store
}

func TestHandleMergesFirstTurn(t *testing.T) {
	ex := &fakeExtractor{fields: nft.Fields{Name: "Maserati GranTurismo"}}
	m := &fakeMinter{}
	ag, store := newTestAgent(t, ex, m)
	ctx := context.Background()

	out := ag.Handle(ctx, Message{ParticipantID: "u1", Text: "Call it Maserati GranTurismo"})
	require.Equal(t, OutcomeMerged, out.Kind)
	require.True(t, out.Changed)
	require.NoError(t, out.Err)

	rec, err := store.Load(ctx, "Minty/u1/data")
	require.NoError(t, err)
	require.Equal(t, "Maserati GranTurismo", rec.Name)
	require.Empty(t, rec.Description)
	require.Equal(t, testNow.UnixMilli(), rec.LastUpdated)
	require.Zero(t, m.calls.Load())
	require.True(t, ag.Validate(ctx, "u1"))
}

func TestHandleMintsWhenComplete(t *testing.T) {
	hash := common.HexToHash("0xfeedface")
	ex := &fakeExtractor{fields: nft.Fields{Description: "A grand tourer", Recipient: testRecipient}}
	m := &fakeMinter{hash: hash}
	ledger, err := mysql.NewMemoryMintRepository(t.TempDir())
	require.NoError(t, err)
	ag, store := newTestAgent(t, ex, m, WithLedger(ledger))
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "Minty/u1/data", nft.Record{State: nft.StateCollecting, Name: "Maserati"}))

	out := ag.Handle(ctx, Message{ParticipantID: "u1", Text: "description and address"})
	require.Equal(t, OutcomeMinted, out.Kind)
	require.NotNil(t, out.Receipt)

	rec, err := store.Load(ctx, "Minty/u1/data")
	require.NoError(t, err)
	require.True(t, rec.IsMinted())
	require.Equal(t, hash.Hex(), rec.TxHash)

	status := ag.MintStatus(ctx, "u1")
	require.Contains(t, status, "/tx/"+hash.Hex())
	require.Contains(t, status, mint.DefaultExplorerURL)

	entries, err := ledger.ListLatest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "u1", entries[0].Participant)
	require.Equal(t, hash.Hex(), entries[0].TxHash)

	require.False(t, ag.Validate(ctx, "u1"))
	again := ag.Handle(ctx, Message{ParticipantID: "u1", Text: "mint another"})
	require.Equal(t, OutcomeSkipped, again.Kind)
	require.Equal(t, int32(1), m.calls.Load())
	require.Equal(t, 1, ex.Calls())
}

func TestUploadFailureLeavesRecordUntouched(t *testing.T) {
	signer, err := web3.NewSignerFromHex(testKey)
	require.NoError(t, err)
	uploader := &fakeUploader{err: errors.New("pinata 503")}
	writer := &fakeWriter{hash: common.HexToHash("0x01")}
	pipeline, err := mint.New(uploader, nil, writer, signer)
	require.NoError(t, err)

	ex := &fakeExtractor{fields: nft.Fields{Recipient: testRecipient}}
	alerter := &recordingAlerter{}
	ag, store := newTestAgent(t, ex, pipeline, WithAlerter(alerter))
	ctx := context.Background()

	before := nft.Record{State: nft.StateCollecting, Name: "n", Description: "d", LastUpdated: 1}
	require.NoError(t, store.Save(ctx, "Minty/u1/data", before))

	var out Outcome
	require.NotPanics(t, func() {
		out = ag.Handle(ctx, Message{ParticipantID: "u1", Text: "send it to " + testRecipient})
	})
	require.Equal(t, OutcomeFailed, out.Kind)
	require.Equal(t, StageMint, out.Stage)
	require.Equal(t, xerrors.CodeUploadFailure, out.Code())
	require.Zero(t, writer.calls)

	rec, err := store.Load(ctx, "Minty/u1/data")
	require.NoError(t, err)
	require.False(t, rec.IsMinted())
	require.Equal(t, testRecipient, rec.Recipient)
	require.Equal(t, "n", rec.Name)
	require.Empty(t, ag.MintStatus(ctx, "u1"))

	require.Len(t, alerter.events, 1)
	require.Equal(t, xerrors.CodeUploadFailure, alerter.events[0].Code)
	require.Equal(t, "Minty/u1/data", alerter.events[0].Key)
}

func TestMintRetriedOnNextTurnWithoutExtraction(t *testing.T) {
	ex := &fakeExtractor{}
	m := &fakeMinter{err: xerrors.New(xerrors.CodeMintFailure, "nonce too low"), hash: common.HexToHash("0x02")}
	ag, store := newTestAgent(t, ex, m)
	ctx := context.Background()
	complete := nft.Record{State: nft.StateCollecting, Name: "n", Description: "d", Recipient: testRecipient}
	require.NoError(t, store.Save(ctx, "Minty/u1/data", complete))

	first := ag.Handle(ctx, Message{ParticipantID: "u1", Text: "hi"})
	require.Equal(t, OutcomeFailed, first.Kind)
	require.Equal(t, xerrors.CodeMintFailure, first.Code())
	require.True(t, ag.Validate(ctx, "u1"))

	m.err = nil
	second := ag.Handle(ctx, Message{ParticipantID: "u1", Text: "hi again"})
	require.Equal(t, OutcomeMinted, second.Kind)
	require.Equal(t, 0, ex.Calls())
	require.Equal(t, int32(2), m.calls.Load())
}

func TestExtractionFailureIsSwallowed(t *testing.T) {
	ex := &fakeExtractor{err: errors.New("model offline")}
	ag, store := newTestAgent(t, ex, &fakeMinter{})
	ctx := context.Background()

	out := ag.Handle(ctx, Message{ParticipantID: "u1", Text: "name it X"})
	require.Equal(t, OutcomeFailed, out.Kind)
	require.Equal(t, xerrors.CodeExtractionFailure, out.Code())

	rec, err := store.Load(ctx, "Minty/u1/data")
	require.NoError(t, err)
	require.Equal(t, nft.Empty(), rec)
}

func TestHandleRejectsMissingParticipant(t *testing.T) {
	ag, _ := newTestAgent(t, &fakeExtractor{}, &fakeMinter{})
	out := ag.Handle(context.Background(), Message{Text: "hello"})
	require.Equal(t, OutcomeFailed, out.Kind)
	require.Equal(t, xerrors.CodeInvalidArgument, out.Code())
}

func TestConcurrentTurnsMintOnce(t *testing.T) {
	ex := &fakeExtractor{fields: nft.Fields{Name: "n", Description: "d", Recipient: testRecipient}}
	m := &fakeMinter{hash: common.HexToHash("0x03"), delay: 5 * time.Millisecond}
	ag, _ := newTestAgent(t, ex, m)
	ctx := context.Background()

	var wg sync.WaitGroup
	kinds := make(chan OutcomeKind, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kinds <- ag.Handle(ctx, Message{ParticipantID: "u1", Text: "everything"}).Kind
		}()
	}
	wg.Wait()
	close(kinds)

	counts := map[OutcomeKind]int{}
	for k := range kinds {
		counts[k]++
	}
	require.Equal(t, int32(1), m.calls.Load())
	require.Equal(t, 1, counts[OutcomeMinted])
	require.Equal(t, 15, counts[OutcomeSkipped])
}

func TestCacheFailureDegrades(t *testing.T) {
	store := nft.NewStore(failingCache{})
	ag := New("Minty", store, &fakeExtractor{}, &fakeMinter{})
	ctx := context.Background()

	require.False(t, ag.Validate(ctx, "u1"))
	require.Equal(t, DataStatusFallback, ag.DataStatus(ctx, "u1"))
	require.Empty(t, ag.MintStatus(ctx, "u1"))

	out := ag.Handle(ctx, Message{ParticipantID: "u1", Text: "x"})
	require.Equal(t, OutcomeFailed, out.Kind)
	require.Equal(t, xerrors.CodeCacheFailure, out.Code())
	require.Error(t, ag.Reset(ctx, "u1"))
}

func TestResetClearsRecord(t *testing.T) {
	ag, store := newTestAgent(t, &fakeExtractor{}, &fakeMinter{})
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "Minty/u1/data", nft.Minted("0x1", testNow)))

	require.NoError(t, ag.Reset(ctx, "u1"))
	rec, err := ag.Record(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, nft.Empty(), rec)
	require.True(t, strings.HasPrefix(ag.DataStatus(ctx, "u1"), "NFT Information Status:"))
}
