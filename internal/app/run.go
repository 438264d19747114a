package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/petervdpas/profileshare/internal/avatar"
	"github.com/petervdpas/profileshare/internal/config"
	"github.com/petervdpas/profileshare/internal/discovery"
	"github.com/petervdpas/profileshare/internal/exchange"
	"github.com/petervdpas/profileshare/internal/p2p"
	"github.com/petervdpas/profileshare/internal/profile"
	"github.com/petervdpas/profileshare/internal/proto"
	"github.com/petervdpas/profileshare/internal/session"
	"github.com/petervdpas/profileshare/internal/util"
	"github.com/petervdpas/profileshare/internal/viewer"
)

type Options struct {
	PeerDir string
	CfgPath string
	Cfg     config.Config
}

func Run(ctx context.Context, opt Options) error {
	logBuf := viewer.NewLogBuffer(800)
	log.SetOutput(io.MultiWriter(os.Stderr, logBuf))

	logBanner(opt.PeerDir, opt.CfgPath)

	return runPeer(ctx, opt, logBuf)
}

// displayName is the name announced in invitations.
func displayName(cfg config.Config) string {
	if name, err := util.ValidateDisplayName(cfg.Profile.Name); err == nil {
		return name
	}
	if host, err := os.Hostname(); err == nil && strings.TrimSpace(host) != "" {
		return host
	}
	return "profileshare"
}

func runPeer(ctx context.Context, o Options, logs *viewer.LogBuffer) error {
	cfg := o.Cfg

	if err := p2p.SetLogLevel(cfg.P2P.LogLevel); err != nil {
		log.Printf("WARNING: p2p.log_level: %v", err)
	}

	// ── p2p node
	keyFile := util.ResolvePath(o.PeerDir, cfg.Identity.KeyFile)
	node, err := p2p.New(ctx, cfg.P2P.ListenPort, keyFile)
	if err != nil {
		return fmt.Errorf("start p2p node: %w", err)
	}
	defer node.Close()
	log.Printf("peer id: %s", node.ID())
	for _, a := range node.Host.Addrs() {
		log.Printf("listening on %s", a)
	}

	// ── local profile
	maxImage := cfg.Exchange.MaxImageKB * 1024
	maxMessage := cfg.Exchange.MaxMessageKB * 1024
	codec := profile.Codec{MaxImageBytes: maxImage, MaxPayloadBytes: maxMessage}

	photo := avatar.NewStore(util.ResolvePath(o.PeerDir, cfg.Profile.ImageFile), maxImage)
	image, err := photo.Read()
	if err != nil {
		log.Printf("WARNING: read photo: %v", err)
	}
	local := fromConfig(cfg.Profile, image)
	log.Printf("local profile: %s", local)

	// ── session, discovery, coordinator
	sess := session.New(node.Host, session.Options{
		DisplayName:    displayName(cfg),
		ServiceTag:     proto.ServiceTag,
		MaxMessageSize: maxMessage,
		SendTimeout:    util.DefaultSendTimeout,
		InboundRate:    cfg.Exchange.InboundRate,
		InboundBurst:   cfg.Exchange.InboundBurst,
	})
	defer sess.Close()

	adv := discovery.NewAdvertiser(node.Host, sess, proto.ServiceTag)
	br := discovery.NewBrowser(node.Host, sess, proto.ServiceTag, discovery.BrowserOptions{
		InviteTimeout: util.SecondsOr(cfg.Exchange.InviteTimeoutSec, util.DefaultInviteTimeout),
		LostAfter:     util.SecondsOr(cfg.Exchange.LostAfterSec, discovery.DefaultLostAfter),
	})

	coord := exchange.New(sess, adv, br, local, exchange.WithCodec(codec))
	go coord.Run(ctx)

	if cfg.Exchange.AutoStart {
		coord.StartSharing()
	}

	// ── config hot reload
	ps := newProfileSync(o.CfgPath, cfg, coord, photo)
	if err := config.Watch(ctx, o.CfgPath, func(c config.Config) { ps.reload(c) }); err != nil {
		log.Printf("WARNING: config watch disabled: %v", err)
	}

	// ── viewer
	if cfg.Viewer.HTTPAddr != "" {
		addr, url := NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
		go func() {
			err := viewer.Start(ctx, addr, viewer.Viewer{
				Node:          node,
				Session:       sess,
				Browser:       br,
				Coord:         coord,
				Photo:         photo,
				Logs:          logs,
				SaveProfile:   ps.save,
				MaxImageBytes: maxImage,
				Debug:         cfg.Viewer.Debug,
			})
			if err != nil {
				log.Printf("VIEWER: %v", err)
			}
		}()
		log.Printf("🌐 API: %s/api/state", url)
	}

	<-ctx.Done()
	log.Println("PEER: shutting down")
	coord.StopSharing()
	return nil
}
