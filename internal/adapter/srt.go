package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	srt "github.com/datarhei/gosrt"

	"github.com/splicecast/splicecast/internal/models"
	"github.com/splicecast/splicecast/internal/scte35"
	"github.com/splicecast/splicecast/internal/supervisor"
)

const srtPayloadSize = 1316 // 7 TS packets per datagram

// SRTAdapter serves MPEG-TS over a gosrt listener. The encoder publishes TS
// over a local UDP hop; the adapter relays datagrams to every SRT subscriber
// and interleaves SCTE-35 packets on the session's cue PID, so markers ride
// inside the transport stream itself.
type SRTAdapter struct {
	deps Deps
	targetMap
}

// NewSRTAdapter creates the SRT adapter.
func NewSRTAdapter(deps Deps) *SRTAdapter {
	return &SRTAdapter{deps: deps, targetMap: newTargetMap()}
}

func (a *SRTAdapter) Format() models.OutputFormat { return models.FormatSRT }

// srtOutput is the data-plane state for one SRT target.
type srtOutput struct {
	listener srt.Listener
	relay    *net.UDPConn
	streamID string

	mu   sync.Mutex
	subs map[srt.Conn]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start binds the SRT listener, spawns the encoder, and begins relaying.
func (a *SRTAdapter) Start(ctx context.Context, session *models.StreamSession, target *models.OutputTarget) error {
	settings := session.Outputs.SRT
	if settings == nil {
		return models.ErrValidation{Field: "srt", Message: "srt settings are required"}
	}
	owner := session.Name + "/srt"
	if err := a.deps.Ports.Reserve(settings.Port, owner); err != nil {
		return err
	}

	cfg := srt.DefaultConfig()
	cfg.Latency = time.Duration(settings.LatencyMs) * time.Millisecond
	cfg.PayloadSize = srtPayloadSize
	if settings.Passphrase != "" {
		cfg.Passphrase = settings.Passphrase
	}

	listener, err := srt.Listen("srt", fmt.Sprintf(":%d", settings.Port), cfg)
	if err != nil {
		a.deps.Ports.Release(settings.Port)
		return fmt.Errorf("binding srt port %d: %w", settings.Port, err)
	}

	relay, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		listener.Close()
		a.deps.Ports.Release(settings.Port)
		return fmt.Errorf("binding relay socket: %w", err)
	}

	out := &srtOutput{
		listener: listener,
		relay:    relay,
		streamID: session.Name,
		subs:     make(map[srt.Conn]struct{}),
	}
	runCtx, cancel := context.WithCancel(context.Background())
	out.cancel = cancel
	out.wg.Add(2)
	go out.acceptLoop(runCtx, settings.Passphrase, a.deps.logger())
	go out.relayLoop(runCtx)

	relayURL := fmt.Sprintf("udp://%s?pkt_size=%d", relay.LocalAddr(), srtPayloadSize)
	cmd := baseCommand(a.deps.ffmpeg(), session).
		MpegtsArgs().
		FlushPackets().
		Output(relayURL)

	handle, err := a.deps.Supervisor.Start(ctx, supervisor.Spec{
		Name:   owner,
		Binary: cmd.Binary(),
		Args:   cmd.Args(),
		OnRestart: func(int) {
			if a.deps.OnRestart != nil {
				a.deps.OnRestart(models.FormatSRT)
			}
		},
		OnExit: func(err error) {
			if a.deps.OnTargetExit != nil {
				a.deps.OnTargetExit(target.ID, err)
			}
		},
	})
	if err != nil {
		out.close()
		a.deps.Ports.Release(settings.Port)
		return err
	}

	a.put(target.ID, &targetState{
		session:   session.Name,
		handle:    handle,
		queue:     newSerialQueue(16),
		port:      settings.Port,
		pid:       session.SCTE35.PID,
		startedAt: time.Now(),
		extra:     out,
	})
	target.URL = fmt.Sprintf("srt://0.0.0.0:%d?streamid=%s", settings.Port, session.Name)
	target.Port = settings.Port
	return nil
}

// InjectEvent interleaves the splice section as TS packets on the cue PID.
func (a *SRTAdapter) InjectEvent(ctx context.Context, targetID string, event *models.SCTE35Event) error {
	st, ok := a.get(targetID)
	if !ok {
		return fmt.Errorf("srt: unknown target %s", targetID)
	}
	return st.queue.Do(ctx, func() error {
		var section *scte35.SpliceInfoSection
		switch event.Type {
		case models.EventCueOut:
			section = scte35.NewCueOut(event.EventID, event.Duration)
		case models.EventCueIn:
			section = scte35.NewCueIn(event.EventID)
		default:
			return fmt.Errorf("%w: %q", models.ErrInvalidEvent, event.Type)
		}

		raw, err := section.Encode()
		if err != nil {
			return err
		}
		packets, next, err := scte35.PacketizeSection(raw, uint16(st.pid), st.cc)
		if err != nil {
			return err
		}
		st.cc = next

		out := st.extra.(*srtOutput)
		return out.broadcast(packets)
	})
}

// Stop tears the target down.
func (a *SRTAdapter) Stop(ctx context.Context, targetID string) error {
	if st, ok := a.get(targetID); ok {
		if out, isOut := st.extra.(*srtOutput); isOut {
			out.close()
		}
	}
	return stopTarget(ctx, &a.deps, &a.targetMap, targetID)
}

func (o *srtOutput) acceptLoop(ctx context.Context, passphrase string, logger *slog.Logger) {
	defer o.wg.Done()
	for {
		conn, mode, err := o.listener.Accept(func(req srt.ConnRequest) srt.ConnType {
			if passphrase != "" {
				if err := req.SetPassphrase(passphrase); err != nil {
					return srt.REJECT
				}
			}
			if id := req.StreamId(); id != "" && id != o.streamID {
				return srt.REJECT
			}
			return srt.SUBSCRIBE
		})
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("srt accept failed", "error", err)
			}
			return
		}
		if mode != srt.SUBSCRIBE || conn == nil {
			continue
		}
		o.mu.Lock()
		o.subs[conn] = struct{}{}
		o.mu.Unlock()
	}
}

func (o *srtOutput) relayLoop(_ context.Context) {
	defer o.wg.Done()
	buf := make([]byte, 2048)
	for {
		// returns with an error once the socket is closed on stop
		n, _, err := o.relay.ReadFromUDP(buf)
		if err != nil {
			return
		}
		_ = o.broadcast(buf[:n])
	}
}

// broadcast writes the datagram payload to every subscriber, dropping
// subscribers whose writes fail.
func (o *srtOutput) broadcast(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for conn := range o.subs {
		for off := 0; off < len(data); off += srtPayloadSize {
			end := min(off+srtPayloadSize, len(data))
			if _, err := conn.Write(data[off:end]); err != nil {
				conn.Close()
				delete(o.subs, conn)
				break
			}
		}
	}
	return nil
}

func (o *srtOutput) close() {
	if o.cancel != nil {
		o.cancel()
	}
	o.listener.Close()
	o.relay.Close()
	o.mu.Lock()
	for conn := range o.subs {
		conn.Close()
	}
	o.subs = map[srt.Conn]struct{}{}
	o.mu.Unlock()
	o.wg.Wait()
}
