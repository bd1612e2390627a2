package killswitch

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Listen: живучая подписка на канал сигналов: переподключается, на каждом
// подключении вызывает onReconnect, разбирает "<target>:<on>" и отдает в onMessage.
func Listen(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error,
	onMessage func(target string, on bool),
) {
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}

		if onReconnect != nil {
			if err := onReconnect(); err != nil {
				logger.Error("sync failed on reconnect", zap.Error(err))
			}
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop
				}
				target, on, ok := parseSignal(msg.Payload)
				if !ok {
					logger.Error("invalid signal format", zap.String("payload", msg.Payload))
					continue
				}
				onMessage(target, on)
			}
		}

		pubsub.Close()
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

// parseSignal режет по последнему двоеточию: id триггера сам может содержать ':'.
func parseSignal(payload string) (string, bool, bool) {
	i := strings.LastIndex(payload, ":")
	if i <= 0 || i == len(payload)-1 {
		return "", false, false
	}
	status := payload[i+1:]
	on := status == "true" || status == "on"
	return payload[:i], on, true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// WatchRemote логирует изменения, сделанные другими инстансами. Состояние не кэшируется,
// поэтому достаточно сверки при переподключении и лога.
func (m *Manager) WatchRemote(ctx context.Context, rdb *redis.Client, channel string) {
	Listen(ctx, rdb, m.logger, channel,
		func() error {
			state, err := m.store.Load(ctx)
			if err != nil {
				return err
			}
			m.logger.Info("kill-switch state synced",
				zap.Bool("global", state.Global), zap.Int("triggers", len(state.Triggers)))
			return nil
		},
		func(target string, on bool) {
			m.logger.Info("kill-switch signal received", zap.String("target", target), zap.Bool("on", on))
		},
	)
}
