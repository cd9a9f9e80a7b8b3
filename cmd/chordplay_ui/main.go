package main

import (
	"fmt"
	"image"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/sirupsen/logrus"

	"github.com/cbegin/chordplay-go"
	"github.com/cbegin/chordplay-go/internal/score"
)

const (
	windowW    = 1100
	windowH    = 720
	minWindowW = 860
	minWindowH = 560

	textScale = 2
	charW     = 7 * textScale
	lineH     = 14 * textScale

	barsPerRow = 4
	barGap     = 10
	rowGap     = 8

	tempoSettle = 150 * time.Millisecond
)

var (
	bgColor         = color.RGBA{192, 192, 192, 255}
	panelColor      = color.RGBA{192, 192, 192, 255}
	borderColor     = color.RGBA{128, 128, 128, 255}
	highlightColor  = color.RGBA{0, 0, 128, 255}
	restColor       = color.RGBA{40, 40, 52, 255}
	chordCellColor  = color.RGBA{56, 64, 96, 255}
	playheadColor   = color.RGBA{255, 196, 0, 255}
	bevelLight      = color.RGBA{255, 255, 255, 255}
	bevelDarker     = color.RGBA{64, 64, 64, 255}
	sunkenBgColor   = color.RGBA{24, 24, 32, 255}
	sliderFillColor = color.RGBA{0, 0, 128, 255}
)

type slotKey struct {
	section, bar, slot int
}

type game struct {
	engine *chordplay.Engine
	events <-chan chordplay.PlaybackEvent

	mu    sync.Mutex
	score *score.Score
	path  string

	tempo      float64
	overridden bool // tempo set from the slider rather than the score
	volume     float64
	dragging   int  // 0=none, 1=tempo, 2=volume
	setTempo   func(func())

	active     slotKey
	hasActive  bool
	gridScroll int
	cells      map[slotKey]image.Rectangle

	silent    bool
	status    string
	statusErr bool

	textCache map[string]*ebiten.Image
	viewW     int
	viewH     int
}

func newGame(path string) (*game, error) {
	g := &game{
		path:      path,
		volume:    1,
		setTempo:  debounce.New(tempoSettle),
		cells:     make(map[slotKey]image.Rectangle),
		status:    "Ready",
		textCache: make(map[string]*ebiten.Image, 256),
		viewW:     windowW,
		viewH:     windowH,
	}
	if err := g.reload(); err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	eng, err := chordplay.NewEngine(g.currentScore, chordplay.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	g.engine = eng
	g.events = eng.Watch()
	return g, nil
}

func (g *game) currentScore() *score.Score {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.score
}

func (g *game) reload() error {
	s, err := score.Load(g.path)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.score = s
	g.mu.Unlock()
	if !g.overridden {
		g.tempo = s.BPM
	}
	if g.engine != nil {
		g.engine.ScoreChanged()
	}
	g.setStatus(fmt.Sprintf("Loaded %s", filepath.Base(g.path)))
	return nil
}

func (g *game) Update() error {
	g.pollEvents()
	g.handleInput()
	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	screen.Fill(bgColor)
	l := g.layoutRects()

	g.drawButton(screen, l.play, g.playButtonLabel())
	g.drawButton(screen, l.reload, "Reload")
	g.drawSlider(screen, l.tempo, fmt.Sprintf("%3.0f bpm", g.tempo), (g.tempo-score.MinBPM)/(score.MaxBPM-score.MinBPM))
	g.drawSlider(screen, l.volume, fmt.Sprintf("Vol %d%%", int(g.volume*100+0.5)), g.volume)
	g.drawSunkenPanel(screen, l.grid)
	g.drawGrid(screen, l.grid)
	g.drawSunkenPanel(screen, l.status)
	g.drawStatus(screen, l.status)
}

func (g *game) Layout(outsideW, outsideH int) (int, int) {
	if outsideW < minWindowW {
		outsideW = minWindowW
	}
	if outsideH < minWindowH {
		outsideH = minWindowH
	}
	g.viewW = outsideW
	g.viewH = outsideH
	return outsideW, outsideH
}

func (g *game) Close() { _ = g.engine.Close() }

func (g *game) pollEvents() {
	for {
		select {
		case ev, ok := <-g.events:
			if !ok {
				return
			}
			switch ev.Kind {
			case chordplay.EventDispatched:
				g.active = slotKey{ev.Ref.Section, ev.Ref.Bar, ev.Ref.Slot}
				g.hasActive = true
			case chordplay.EventPerformanceEnded:
				g.hasActive = false
				if !g.statusErr {
					g.setStatus("Performance ended")
				}
			case chordplay.EventAudioUnavailable:
				g.silent = true
				g.setError("No audio device, playing silently")
			}
		default:
			return
		}
	}
}

func (g *game) handleInput() {
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		g.togglePlay()
	}
	mx, my := ebiten.CursorPosition()
	l := g.layoutRects()

	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		switch {
		case pointInRect(mx, my, l.play):
			g.togglePlay()
			return
		case pointInRect(mx, my, l.reload):
			if err := g.reload(); err != nil {
				g.setError(err.Error())
			}
			return
		case pointInRect(mx, my, l.tempo):
			g.dragging = 1
		case pointInRect(mx, my, l.volume):
			g.dragging = 2
		}
	}
	if !ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft) {
		g.dragging = 0
	}
	switch g.dragging {
	case 1:
		g.updateTempoFromMouse(mx, l.tempo)
	case 2:
		g.updateVolumeFromMouse(mx, l.volume)
	}

	if _, wy := ebiten.Wheel(); wy != 0 && pointInRect(mx, my, l.grid) {
		g.gridScroll -= int(wy * lineH)
		if g.gridScroll < 0 {
			g.gridScroll = 0
		}
	}
}

func (g *game) togglePlay() {
	if g.engine.Playing() {
		g.engine.Stop()
		g.hasActive = false
		g.setStatus("Stopped")
		return
	}
	if g.engine.Timeline().Empty() {
		g.setError("Score has no bars")
		return
	}
	g.engine.Play()
	if !g.silent {
		g.setStatus(fmt.Sprintf("Playing at %.0f bpm", g.engine.Tempo()))
	}
}

type uiLayout struct {
	play, reload, tempo, volume, grid, status image.Rectangle
}

func (g *game) layoutRects() uiLayout {
	const pad = 12
	rowH := lineH + 16
	w, h := g.viewW, g.viewH
	controlsTop := pad
	statusTop := h - pad - rowH
	return uiLayout{
		play:   image.Rect(pad, controlsTop, pad+130, controlsTop+rowH),
		reload: image.Rect(pad+142, controlsTop, pad+272, controlsTop+rowH),
		tempo:  image.Rect(pad+284, controlsTop, pad+584, controlsTop+rowH),
		volume: image.Rect(pad+596, controlsTop, min(w-pad, pad+856), controlsTop+rowH),
		grid:   image.Rect(pad, controlsTop+rowH+pad, w-pad, statusTop-pad),
		status: image.Rect(pad, statusTop, w-pad, statusTop+rowH),
	}
}

// drawGrid lays the score out as rows of bars and overlays the playhead.
func (g *game) drawGrid(screen *ebiten.Image, rect image.Rectangle) {
	s := g.currentScore()
	clear(g.cells)
	if s == nil {
		return
	}
	inner := image.Rect(rect.Min.X+8, rect.Min.Y+8, rect.Max.X-8, rect.Max.Y-8)
	barW := (inner.Dx() - barGap*(barsPerRow-1)) / barsPerRow
	cellH := lineH + 12
	y := inner.Min.Y - g.gridScroll

	title := s.Title
	if title == "" {
		title = filepath.Base(g.path)
	}
	g.drawClipped(screen, inner, fmt.Sprintf("%s  (key %s)", title, s.Key), inner.Min.X, y)
	y += lineH + rowGap

	for si, sec := range s.Sections {
		name := sec.Name
		if name == "" {
			name = sec.ID
		}
		g.drawClipped(screen, inner, name, inner.Min.X, y)
		y += lineH + 4
		for bi, bar := range sec.Bars {
			col := bi % barsPerRow
			if col == 0 && bi > 0 {
				y += cellH + rowGap
			}
			x := inner.Min.X + col*(barW+barGap)
			g.drawBar(screen, inner, si, bi, bar, image.Rect(x, y, x+barW, y+cellH))
		}
		y += cellH + rowGap*2
	}
	g.drawPlayhead(screen, inner)
}

func (g *game) drawBar(screen *ebiten.Image, clip image.Rectangle, si, bi int, bar score.Bar, rect image.Rectangle) {
	n := len(bar.Slots)
	if n == 0 {
		return
	}
	slotW := rect.Dx() / n
	for k, c := range bar.Slots {
		cell := image.Rect(rect.Min.X+k*slotW, rect.Min.Y, rect.Min.X+(k+1)*slotW-2, rect.Max.Y)
		g.cells[slotKey{si, bi, k}] = cell
		if !cell.In(clip) {
			continue
		}
		fill := color.Color(restColor)
		if c != nil {
			fill = chordCellColor
		}
		if g.hasActive && g.active == (slotKey{si, bi, k}) {
			fill = highlightColor
		}
		ebitenutil.DrawRect(screen, float64(cell.Min.X), float64(cell.Min.Y), float64(cell.Dx()), float64(cell.Dy()), fill)
		if c != nil {
			g.drawText(screen, shortenEnd(c.Label(), max(1, (cell.Dx()-6)/charW)), cell.Min.X+4, cell.Min.Y+6)
		}
	}
	if bar.RepeatStart {
		ebitenutil.DrawRect(screen, float64(rect.Min.X-4), float64(rect.Min.Y), 2, float64(rect.Dy()), bevelLight)
	}
	if bar.RepeatEnd {
		ebitenutil.DrawRect(screen, float64(rect.Max.X+1), float64(rect.Min.Y), 2, float64(rect.Dy()), bevelLight)
	}
}

func (g *game) drawPlayhead(screen *ebiten.Image, clip image.Rectangle) {
	cur := g.engine.Cursor()
	if !cur.Valid {
		return
	}
	ref := cur.Event.Ref
	cell, ok := g.cells[slotKey{ref.Section, ref.Bar, ref.Slot}]
	if !ok || !cell.In(clip) {
		return
	}
	x := cell.Min.X + int(cur.Fraction*float64(cell.Dx()))
	ebitenutil.DrawRect(screen, float64(x), float64(cell.Min.Y-2), 2, float64(cell.Dy()+4), playheadColor)
}

func (g *game) drawSlider(screen *ebiten.Image, rect image.Rectangle, label string, v float64) {
	g.drawPanel(screen, rect)
	g.drawText(screen, label, rect.Min.X+8, rect.Min.Y+8)

	trackX, trackW := sliderTrack(rect)
	trackY := rect.Min.Y + rect.Dy()/2 - 4
	if trackW < 20 {
		return
	}
	ebitenutil.DrawRect(screen, float64(trackX), float64(trackY), float64(trackW), 8, bevelDarker)
	ebitenutil.DrawRect(screen, float64(trackX), float64(trackY), float64(trackW-1), 1, borderColor)
	fillW := int(float64(trackW) * clamp(v, 0, 1))
	if fillW > 2 {
		ebitenutil.DrawRect(screen, float64(trackX+1), float64(trackY+1), float64(fillW-1), 6, sliderFillColor)
	}
	knobX := min(max(trackX+fillW-5, trackX-5), trackX+trackW-5)
	knobRect := image.Rect(knobX, trackY-4, knobX+10, trackY+12)
	ebitenutil.DrawRect(screen, float64(knobRect.Min.X), float64(knobRect.Min.Y), float64(knobRect.Dx()), float64(knobRect.Dy()), panelColor)
	drawBorder(screen, knobRect)
}

func sliderTrack(rect image.Rectangle) (x, w int) {
	return rect.Min.X + 130, rect.Dx() - 146
}

// updateTempoFromMouse moves the label immediately and applies the tempo
// once dragging settles, since every tempo change restarts the performance.
func (g *game) updateTempoFromMouse(mx int, rect image.Rectangle) {
	trackX, trackW := sliderTrack(rect)
	if trackW <= 0 {
		return
	}
	v := clamp(float64(mx-trackX)/float64(trackW), 0, 1)
	bpm := float64(int(score.MinBPM + v*(score.MaxBPM-score.MinBPM)))
	if bpm == g.tempo {
		return
	}
	g.tempo = bpm
	g.overridden = true
	eng := g.engine
	g.setTempo(func() { eng.SetTempo(bpm) })
	g.setStatus(fmt.Sprintf("Tempo: %.0f bpm", bpm))
}

func (g *game) updateVolumeFromMouse(mx int, rect image.Rectangle) {
	trackX, trackW := sliderTrack(rect)
	if trackW <= 0 {
		return
	}
	v := clamp(float64(mx-trackX)/float64(trackW), 0, 1)
	g.volume = v
	g.engine.SetMasterVolume(v)
	g.setStatus(fmt.Sprintf("Volume: %d%%", int(v*100+0.5)))
}

func (g *game) playButtonLabel() string {
	if g.engine.Playing() {
		return "Stop"
	}
	return "Play"
}

func (g *game) drawStatus(screen *ebiten.Image, rect image.Rectangle) {
	msg := "Status: " + g.status
	if g.statusErr {
		msg = "Status: ERROR - " + g.status
	}
	if beat, ok := g.engine.Position(); ok {
		msg = fmt.Sprintf("%s  [beat %.2f]", msg, beat)
	}
	maxChars := max(8, (rect.Dx()-16)/charW)
	g.drawText(screen, shortenEnd(msg, maxChars), rect.Min.X+8, rect.Min.Y+8)
}

func (g *game) setError(msg string) {
	g.status = msg
	g.statusErr = true
}

func (g *game) setStatus(msg string) {
	g.status = msg
	g.statusErr = false
}

func (g *game) drawPanel(screen *ebiten.Image, rect image.Rectangle) {
	ebitenutil.DrawRect(screen, float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy()), panelColor)
	drawBorder(screen, rect)
}

func (g *game) drawSunkenPanel(screen *ebiten.Image, rect image.Rectangle) {
	ebitenutil.DrawRect(screen, float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy()), sunkenBgColor)
	drawSunkenBorder(screen, rect)
}

func (g *game) drawButton(screen *ebiten.Image, rect image.Rectangle, label string) {
	g.drawPanel(screen, rect)
	labelW := len([]rune(label)) * charW
	x := rect.Min.X + (rect.Dx()-labelW)/2
	y := rect.Min.Y + (rect.Dy()-lineH)/2
	g.drawText(screen, label, x, y)
}

// drawBorder draws a raised bevel.
func drawBorder(screen *ebiten.Image, rect image.Rectangle) {
	x := float64(rect.Min.X)
	y := float64(rect.Min.Y)
	w := float64(rect.Dx())
	h := float64(rect.Dy())
	ebitenutil.DrawRect(screen, x, y, w-1, 1, bevelLight)
	ebitenutil.DrawRect(screen, x, y+1, 1, h-2, bevelLight)
	ebitenutil.DrawRect(screen, x, y+h-1, w, 1, bevelDarker)
	ebitenutil.DrawRect(screen, x+w-1, y, 1, h, bevelDarker)
	ebitenutil.DrawRect(screen, x+1, y+h-2, w-3, 1, borderColor)
	ebitenutil.DrawRect(screen, x+w-2, y+1, 1, h-3, borderColor)
}

func drawSunkenBorder(screen *ebiten.Image, rect image.Rectangle) {
	x := float64(rect.Min.X)
	y := float64(rect.Min.Y)
	w := float64(rect.Dx())
	h := float64(rect.Dy())
	ebitenutil.DrawRect(screen, x, y, w-1, 1, borderColor)
	ebitenutil.DrawRect(screen, x, y+1, 1, h-2, borderColor)
	ebitenutil.DrawRect(screen, x, y+h-1, w, 1, bevelLight)
	ebitenutil.DrawRect(screen, x+w-1, y, 1, h, bevelLight)
	ebitenutil.DrawRect(screen, x+1, y+1, w-3, 1, bevelDarker)
	ebitenutil.DrawRect(screen, x+1, y+2, 1, h-4, bevelDarker)
}

// drawClipped draws a text line only when it fits vertically inside clip.
func (g *game) drawClipped(screen *ebiten.Image, clip image.Rectangle, msg string, x, y int) {
	if y < clip.Min.Y || y+lineH > clip.Max.Y {
		return
	}
	g.drawText(screen, shortenEnd(msg, max(1, (clip.Max.X-x)/charW)), x, y)
}

func (g *game) drawText(screen *ebiten.Image, msg string, x int, y int) {
	if msg == "" {
		return
	}
	img := g.textCache[msg]
	if img == nil {
		w := max(1, len([]rune(msg))*7)
		img = ebiten.NewImage(w, 14)
		ebitenutil.DebugPrintAt(img, msg, 0, 0)
		if len(g.textCache) > 1000 {
			g.textCache = make(map[string]*ebiten.Image, 256)
		}
		g.textCache[msg] = img
	}
	opS := &ebiten.DrawImageOptions{}
	opS.GeoM.Scale(textScale, textScale)
	opS.GeoM.Translate(float64(x+2), float64(y+2))
	opS.ColorScale.Scale(0, 0, 0, 1)
	screen.DrawImage(img, opS)
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(textScale, textScale)
	op.GeoM.Translate(float64(x), float64(y))
	screen.DrawImage(img, op)
}

func shortenEnd(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	if maxChars <= 3 {
		return string(r[:max(0, maxChars)])
	}
	return string(r[:maxChars-3]) + "..."
}

func clamp(v, minV, maxV float64) float64 {
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}

func pointInRect(x, y int, rect image.Rectangle) bool {
	return x >= rect.Min.X && x < rect.Max.X && y >= rect.Min.Y && y < rect.Max.Y
}

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <score.yaml|score.json>", filepath.Base(os.Args[0]))
	}
	p, err := filepath.Abs(os.Args[1])
	if err != nil {
		log.Fatalf("resolve %q: %v", os.Args[1], err)
	}
	g, err := newGame(p)
	if err != nil {
		log.Fatal(err)
	}
	defer g.Close()

	ebiten.SetWindowSize(windowW, windowH)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSizeLimits(minWindowW, minWindowH, -1, -1)
	ebiten.SetWindowTitle("chordplay")
	if err := ebiten.RunGame(g); err != nil {
		log.Fatal(err)
	}
}
