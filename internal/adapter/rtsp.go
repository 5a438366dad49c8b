package adapter

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/splicecast/splicecast/internal/models"
	"github.com/splicecast/splicecast/internal/scte35"
	"github.com/splicecast/splicecast/internal/supervisor"
)

// RTSPAdapter serves RTSP by running the encoder in listen mode. Cue
// markers are emitted on an RTP side channel: packets on a dedicated
// payload type whose header extension carries the splice section, sent to
// the target's RTP port for repackagers to merge into the media stream.
type RTSPAdapter struct {
	deps Deps
	targetMap
}

// NewRTSPAdapter creates the RTSP adapter.
func NewRTSPAdapter(deps Deps) *RTSPAdapter {
	return &RTSPAdapter{deps: deps, targetMap: newTargetMap()}
}

func (a *RTSPAdapter) Format() models.OutputFormat { return models.FormatRTSP }

// rtspSideChannel is the RTP cue emitter for one target.
type rtspSideChannel struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	seq     uint16
	ssrc    uint32
	rtpPort int
}

// Start reserves the ports and launches the listening encoder.
func (a *RTSPAdapter) Start(ctx context.Context, session *models.StreamSession, target *models.OutputTarget) error {
	settings := session.Outputs.RTSP
	if settings == nil {
		return models.ErrValidation{Field: "rtsp", Message: "rtsp settings are required"}
	}
	owner := session.Name + "/rtsp"
	if err := a.deps.Ports.Reserve(settings.Port, owner); err != nil {
		return err
	}
	if err := a.deps.Ports.Reserve(settings.RTPPort, owner); err != nil {
		a.deps.Ports.Release(settings.Port)
		return err
	}

	dest := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: settings.RTPPort}
	conn, err := net.DialUDP("udp", nil, dest)
	if err != nil {
		a.deps.Ports.Release(settings.Port)
		a.deps.Ports.Release(settings.RTPPort)
		return fmt.Errorf("opening cue side channel: %w", err)
	}

	url := fmt.Sprintf("rtsp://0.0.0.0:%d/%s", settings.Port, session.Name)
	cmd := baseCommand(a.deps.ffmpeg(), session).
		RTSPArgs().
		OutputArgs("-rtsp_flags", "listen").
		Output(url)

	handle, err := a.deps.Supervisor.Start(ctx, supervisor.Spec{
		Name:   owner,
		Binary: cmd.Binary(),
		Args:   cmd.Args(),
		// bind check, not a dial: the listener takes a single client
		Health: supervisor.BindCheck{Address: fmt.Sprintf(":%d", settings.Port)},
		OnRestart: func(int) {
			if a.deps.OnRestart != nil {
				a.deps.OnRestart(models.FormatRTSP)
			}
		},
		OnExit: func(err error) {
			if a.deps.OnTargetExit != nil {
				a.deps.OnTargetExit(target.ID, err)
			}
		},
	})
	if err != nil {
		conn.Close()
		a.deps.Ports.Release(settings.Port)
		a.deps.Ports.Release(settings.RTPPort)
		return err
	}

	a.put(target.ID, &targetState{
		session:   session.Name,
		handle:    handle,
		queue:     newSerialQueue(16),
		port:      settings.Port,
		startedAt: time.Now(),
		extra: &rtspSideChannel{
			conn:    conn,
			ssrc:    uint32(settings.Port)<<16 | uint32(settings.RTPPort),
			rtpPort: settings.RTPPort,
		},
	})
	target.URL = url
	target.Port = settings.Port
	return nil
}

// InjectEvent sends the splice section as an RTP cue packet on the side
// channel, timestamped on the 90 kHz media clock relative to target start.
func (a *RTSPAdapter) InjectEvent(ctx context.Context, targetID string, event *models.SCTE35Event) error {
	st, ok := a.get(targetID)
	if !ok {
		return fmt.Errorf("rtsp: unknown target %s", targetID)
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

		sc := st.extra.(*rtspSideChannel)
		sc.mu.Lock()
		defer sc.mu.Unlock()
		sc.seq++
		timestamp := uint32(scte35.DurationToTicks(event.SpliceAt().Sub(st.startedAt).Seconds()))
		pkt, err := scte35.NewRTPCuePacket(section, sc.seq, timestamp, sc.ssrc)
		if err != nil {
			return err
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("marshaling cue packet: %w", err)
		}
		if _, err := sc.conn.Write(raw); err != nil {
			return fmt.Errorf("sending cue packet: %w", err)
		}
		return nil
	})
}

// Stop tears the target down.
func (a *RTSPAdapter) Stop(ctx context.Context, targetID string) error {
	if st, ok := a.get(targetID); ok {
		if sc, isSC := st.extra.(*rtspSideChannel); isSC {
			sc.conn.Close()
			a.deps.Ports.Release(sc.rtpPort)
		}
	}
	return stopTarget(ctx, &a.deps, &a.targetMap, targetID)
}
