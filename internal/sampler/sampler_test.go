// SPDX-License-Identifier: MIT
package sampler

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"instrument/internal/loader"
)

const (
	testRate  = 48000
	testBlock = 256
)

// writeWAV writes a PCM file with every channel of every frame set to level.
func writeWAV(t *testing.T, path string, rate, channels, bitDepth, frames int, level float64) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	full := float64(int64(1)<<(bitDepth-1)) - 1
	data := make([]int, frames*channels)
	for i := range data {
		data[i] = int(level * full)
	}

	enc := wav.NewEncoder(f, rate, bitDepth, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder %s: %v", path, err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// fixtureDir builds a two-sample instrument: note 60 (16-bit mono at the
// engine rate) and note 72 (24-bit stereo at 44.1kHz).
func fixtureDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeWAV(t, filepath.Join(dir, "060-C4.wav"), testRate, 1, 16, testRate, 0.5)
	writeWAV(t, filepath.Join(dir, "072-C5.wav"), 44100, 2, 24, 44100, 0.25)
	writeWAV(t, filepath.Join(dir, "pad.wav"), testRate, 1, 16, 100, 0.1)
	writeFile(t, filepath.Join(dir, "060-notes.txt"), "not audio")
	writeFile(t, filepath.Join(dir, MetadataFile), "name: Test Piano\n")
	return dir
}

func loadedEngine(t testing.TB, dir string, voices int) *Engine {
	t.Helper()
	if err := InitFormats(); err != nil {
		t.Fatal(err)
	}
	e, err := New(voices)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.LoadSamples(context.Background(), dir, testRate); err != nil {
		t.Fatalf("LoadSamples: %v", err)
	}
	if err := e.PrepareRealtime(testBlock); err != nil {
		t.Fatalf("PrepareRealtime: %v", err)
	}
	return e
}

func TestParseRoot(t *testing.T) {
	tests := []struct {
		name string
		note uint8
		ok   bool
	}{
		{"060-C4.wav", 60, true},
		{"7.wav", 7, true},
		{"127_top.wav", 127, true},
		{"128.wav", 0, false},
		{"0601.wav", 60, true},
		{"piano.wav", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		note, ok := parseRoot(tt.name)
		if note != tt.note || ok != tt.ok {
			t.Errorf("parseRoot(%q) = %d, %v; want %d, %v", tt.name, note, ok, tt.note, tt.ok)
		}
	}
}

func TestResample(t *testing.T) {
	ramp := make([]float32, 101)
	for i := range ramp {
		ramp[i] = float32(i) / 100
	}

	up, err := resample(ramp, 48000, 96000)
	if err != nil {
		t.Fatal(err)
	}
	if len(up) != 201 {
		t.Fatalf("len = %d, want 201", len(up))
	}
	for i, v := range up {
		if want := float32(i) / 200; math.Abs(float64(v-want)) > 1e-6 {
			t.Fatalf("up[%d] = %v, want %v", i, v, want)
		}
	}

	down, err := resample(ramp, 96000, 48000)
	if err != nil {
		t.Fatal(err)
	}
	if len(down) != 51 || math.Abs(float64(down[50]-1)) > 1e-6 {
		t.Errorf("down: len %d, last %v", len(down), down[len(down)-1])
	}

	same, _ := resample(ramp, 48000, 48000)
	if &same[0] != &ramp[0] {
		t.Error("equal rates should not copy")
	}
}

func TestLoadSamples(t *testing.T) {
	dir := fixtureDir(t)
	e := loadedEngine(t, dir, 4)

	if e.Name() != "Test Piano" {
		t.Errorf("Name = %q, want metadata name", e.Name())
	}
	if e.Samples() != 2 {
		t.Fatalf("Samples = %d, want 2", e.Samples())
	}
	if got := len(e.samples[0].Data); got != testRate {
		t.Errorf("note 60 length = %d, want %d", got, testRate)
	}
	// 44.1kHz one second resampled to 48kHz.
	if got := len(e.samples[1].Data); math.Abs(float64(got-testRate)) > 2 {
		t.Errorf("note 72 length = %d, want about %d", got, testRate)
	}
	if v := e.samples[0].Data[100]; math.Abs(float64(v)-0.5) > 1e-3 {
		t.Errorf("note 60 level = %v, want 0.5", v)
	}
	if v := e.samples[1].Data[100]; math.Abs(float64(v)-0.25) > 1e-3 {
		t.Errorf("note 72 level = %v, want 0.25 after downmix", v)
	}

	keys := map[uint8]int16{0: 0, 60: 0, 65: 0, 66: 0, 67: 1, 72: 1, 127: 1}
	for note, want := range keys {
		if got := e.keymap[note]; got != want {
			t.Errorf("keymap[%d] = %d, want %d", note, got, want)
		}
	}
}

func TestLoadSamplesPrefersRateDirectory(t *testing.T) {
	dir := fixtureDir(t)
	sub := filepath.Join(dir, "48000")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	writeWAV(t, filepath.Join(sub, "048.wav"), testRate, 1, 16, 1000, 0.5)

	e := loadedEngine(t, dir, 4)
	if e.Samples() != 1 || e.samples[0].Root != 48 {
		t.Errorf("loaded %d samples, first root %d; want the 48000 subdirectory", e.Samples(), e.samples[0].Root)
	}
	if e.Name() != "Test Piano" {
		t.Errorf("Name = %q; metadata lives in the top directory", e.Name())
	}
}

func TestLoadSamplesErrors(t *testing.T) {
	if err := InitFormats(); err != nil {
		t.Fatal(err)
	}

	empty := t.TempDir()
	writeFile(t, filepath.Join(empty, "readme.txt"), "nothing here")

	broken := t.TempDir()
	writeFile(t, filepath.Join(broken, "060.wav"), "RIFF but not really")

	tests := []struct {
		desc   string
		dir    string
		errSub string
	}{
		{"Missing directory", filepath.Join(empty, "nope"), "sample directory"},
		{"No samples", empty, "no samples found"},
		{"Corrupt file", broken, "060.wav"},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			e, _ := New(2)
			err := e.LoadSamples(context.Background(), tt.dir, testRate)
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Errorf("error = %v, want substring %q", err, tt.errSub)
			}
			if e.PrepareRealtime(testBlock) == nil {
				t.Error("PrepareRealtime succeeded without samples")
			}
		})
	}
}

func TestLoadSamplesCancelled(t *testing.T) {
	dir := fixtureDir(t)
	if err := InitFormats(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e, _ := New(2)
	if err := e.LoadSamples(ctx, dir, testRate); err != context.Canceled {
		t.Errorf("error = %v, want %v", err, context.Canceled)
	}
}

func TestInstrumentNameFallback(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Strings")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if got := instrumentName(dir); got != "Strings" {
		t.Errorf("instrumentName = %q, want directory name", got)
	}
	writeFile(t, filepath.Join(dir, MetadataFile), "name: [unterminated\n")
	if got := instrumentName(dir); got != "Strings" {
		t.Errorf("instrumentName with bad yaml = %q", got)
	}
}

func TestRenderEnvelopeAndPan(t *testing.T) {
	e := loadedEngine(t, fixtureDir(t), 4)
	e.SetGain(127)
	e.SetPan(64)
	e.SetAttack(0)
	e.SetSustain(127)

	e.NoteOn(60, 127)
	contribs := e.Render(testBlock)

	c := contribs[0]
	if !c.Active || !c.Valid(testBlock) {
		t.Fatal("voice 0 not active")
	}
	for i := 1; i < len(contribs); i++ {
		if contribs[i].Active {
			t.Errorf("voice %d active", i)
		}
	}
	// 1ms attack is 48 samples; afterwards the envelope sits at sustain 1.
	if c.Energy[0] <= 0 || c.Energy[0] >= c.Energy[40] {
		t.Errorf("attack not rising: %v -> %v", c.Energy[0], c.Energy[40])
	}
	if math.Abs(float64(c.Energy[200])-1) > 1e-6 {
		t.Errorf("energy after attack = %v, want 1", c.Energy[200])
	}
	center := 0.5 * math.Cos(math.Pi/4)
	if math.Abs(float64(c.Left[200])-center) > 1e-3 || math.Abs(float64(c.Right[200])-center) > 1e-3 {
		t.Errorf("centered output = %v/%v, want %v", c.Left[200], c.Right[200], center)
	}

	e.SetPan(0)
	c = e.Render(testBlock)[0]
	if c.Right[10] > 1e-6 || c.Left[10] < 0.49 {
		t.Errorf("hard left: L %v R %v", c.Left[10], c.Right[10])
	}
}

func TestTransposition(t *testing.T) {
	e := loadedEngine(t, fixtureDir(t), 4)
	e.NoteOn(67, 100)
	v := e.voices[0]
	if v.sample.Root != 72 {
		t.Fatalf("note 67 mapped to root %d, want 72", v.sample.Root)
	}
	if want := math.Exp2(-5.0 / 12); math.Abs(v.ratio-want) > 1e-12 {
		t.Errorf("ratio = %v, want %v", v.ratio, want)
	}
}

func TestNoteOffReleases(t *testing.T) {
	e := loadedEngine(t, fixtureDir(t), 4)
	e.SetAttack(0)
	e.SetRelease(0)

	e.NoteOn(60, 100)
	e.Render(testBlock)
	e.NoteOff(60)
	e.Render(testBlock)

	if n := e.ActiveVoices(); n != 0 {
		t.Errorf("ActiveVoices = %d after 1ms release", n)
	}
	if e.Render(testBlock)[0].Active {
		t.Error("released voice still contributes")
	}

	e.NoteOn(60, 100)
	e.NoteOn(60, 0)
	e.Render(testBlock)
	if e.ActiveVoices() != 0 {
		t.Error("velocity 0 did not release")
	}
}

func TestSustainPedal(t *testing.T) {
	e := loadedEngine(t, fixtureDir(t), 4)
	e.SetRelease(0)

	e.ControlChange(ccSustainPedal, 127)
	e.NoteOn(60, 100)
	e.NoteOff(60)
	for i := 0; i < 10; i++ {
		e.Render(testBlock)
	}
	if e.ActiveVoices() != 1 {
		t.Fatal("pedal did not hold the note")
	}

	e.ControlChange(ccSustainPedal, 0)
	e.Render(testBlock)
	if e.ActiveVoices() != 0 {
		t.Error("pedal release did not release the held note")
	}
}

func TestVoiceReuse(t *testing.T) {
	e := loadedEngine(t, fixtureDir(t), 2)
	e.NoteOn(60, 100)
	e.NoteOn(62, 100)
	e.NoteOn(64, 100)

	if e.ActiveVoices() != 2 {
		t.Fatalf("ActiveVoices = %d, want 2", e.ActiveVoices())
	}
	pitches := map[uint8]bool{e.voices[0].pitch: true, e.voices[1].pitch: true}
	if pitches[60] || !pitches[62] || !pitches[64] {
		t.Errorf("voices hold %v; the oldest note should be replaced", pitches)
	}

	e.StopAllVoices()
	if e.ActiveVoices() != 0 {
		t.Error("StopAllVoices left voices running")
	}
}

func TestVoiceEndsWithSample(t *testing.T) {
	dir := t.TempDir()
	writeWAV(t, filepath.Join(dir, "060.wav"), testRate, 1, 16, 100, 0.5)
	e := loadedEngine(t, dir, 2)

	e.NoteOn(60, 127)
	c := e.Render(testBlock)[0]
	if !c.Active {
		t.Fatal("voice inactive in its first block")
	}
	if c.Left[150] != 0 || c.Energy[150] != 0 {
		t.Error("output past the end of the sample")
	}
	if e.Render(testBlock)[0].Active {
		t.Error("voice still active after the sample ended")
	}
}

func TestLFOPanMoves(t *testing.T) {
	e := loadedEngine(t, fixtureDir(t), 2)
	e.SetAttack(0)
	e.SetLFOPanSpeed(127)
	e.SetLFOPanDepth(127)
	e.NoteOn(60, 127)

	minR, maxR := float32(1), float32(0)
	for b := 0; b < 40; b++ {
		c := e.Render(testBlock)[0]
		for i := 100; i < testBlock; i++ {
			minR = min(minR, c.Right[i])
			maxR = max(maxR, c.Right[i])
		}
	}
	if maxR-minR < 0.3 {
		t.Errorf("right channel range %v..%v; auto-pan should sweep it", minR, maxR)
	}
}

func TestUnpreparedEngineIsInert(t *testing.T) {
	e, _ := New(2)
	e.NoteOn(60, 100)
	if e.Render(testBlock) != nil || e.Ready() {
		t.Error("unprepared engine rendered")
	}
	if _, err := New(0); err == nil {
		t.Error("New(0) succeeded")
	}
}

func TestRenderHotPath(t *testing.T) {
	e := loadedEngine(t, fixtureDir(t), 8)
	e.SetLFOPanDepth(64)
	e.SetLFOPanSpeed(64)

	allocs := testing.AllocsPerRun(100, func() {
		e.NoteOn(60, 100)
		e.NoteOn(67, 90)
		e.Render(testBlock)
		e.NoteOff(60)
		e.SetGain(100)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in render path, got %.1f", allocs)
	}
}

func TestBuilderWithLoader(t *testing.T) {
	dir := fixtureDir(t)
	l := loader.New(NewBuilder(4))
	if err := l.Start(loader.Request{SampleDir: dir, SampleRate: testRate, BlockSize: testBlock}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s := l.Wait(ctx); s != loader.Completed {
		t.Fatalf("state = %s (%s)", s, l.ErrorMessage())
	}
	got, ok := l.Take()
	if !ok || !got.Engine.Ready() || got.Instrument != "Test Piano" {
		t.Errorf("Take = %+v, %v", got, ok)
	}
}

func BenchmarkRender(b *testing.B) {
	dir := b.TempDir()
	f := filepath.Join(dir, "060.wav")
	writeWAVBench(b, f)
	e := loadedEngine(b, dir, 32)
	for i := 0; i < 16; i++ {
		e.NoteOn(uint8(48+i), 100)
	}
	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		e.Render(testBlock)
	}
}

func writeWAVBench(b *testing.B, path string) {
	b.Helper()
	f, err := os.Create(path)
	if err != nil {
		b.Fatal(err)
	}
	defer f.Close()
	data := make([]int, 10*testRate)
	for i := range data {
		data[i] = int(8000 * math.Sin(float64(i)*0.05))
	}
	enc := wav.NewEncoder(f, testRate, 16, 1, 1)
	if err := enc.Write(&audio.IntBuffer{Format: &audio.Format{NumChannels: 1, SampleRate: testRate}, Data: data, SourceBitDepth: 16}); err != nil {
		b.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		b.Fatal(err)
	}
}
