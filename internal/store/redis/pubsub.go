package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gosuda/boardsync/internal/domain"
)

// publishSeq bumps the room counter and publishes the frame with the new
// value spliced in as the envelope's first field, in one atomic step so
// subscribers see frames in sequence order.
// KEYS[1] = counter key, KEYS[2] = channel, ARGV[1] = JSON object frame.
var publishSeq = redis.NewScript(`
local seq = redis.call('INCR', KEYS[1])
local frame = '{"seq":' .. seq .. ',' .. string.sub(ARGV[1], 2)
redis.call('PUBLISH', KEYS[2], frame)
return seq
`)

type PubSub struct {
	client *redis.Client
}

func New(ctx context.Context, addr, password string, db int) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	return &PubSub{client: client}, nil
}

func (ps *PubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("redis.PubSub.Close: %w", err)
	}
	return nil
}

// Ping checks connectivity, used by the health endpoint.
func (ps *PubSub) Ping(ctx context.Context) error {
	if err := ps.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Ping: %w", err)
	}
	return nil
}

func (ps *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ps.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Publish: %w", err)
	}
	return nil
}

// PublishSequenced publishes an encoded envelope stamped with the next value
// of seqKey and returns that value. frame must be a JSON object that does
// not already carry a seq field.
func (ps *PubSub) PublishSequenced(ctx context.Context, channel, seqKey string, frame []byte) (uint64, error) {
	if len(frame) < 2 || frame[0] != '{' {
		return 0, errors.New("redis.PubSub.PublishSequenced: frame is not a JSON object")
	}
	seq, err := publishSeq.Run(ctx, ps.client, []string{seqKey, channel}, string(frame)).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis.PubSub.PublishSequenced: %w", err)
	}
	return uint64(seq), nil //nolint:gosec // INCR never goes negative
}

// BoardSeq returns the last sequence number handed out for a project room,
// or 0 when no move has been published yet.
func (ps *PubSub) BoardSeq(ctx context.Context, orgID, projectID uuid.UUID) (uint64, error) {
	seq, err := ps.client.Get(ctx, SeqKey(BoardChannel(orgID, projectID))).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis.PubSub.BoardSeq: %w", err)
	}
	return seq, nil
}

func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := ps.client.Subscribe(ctx, channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.PubSub.Subscribe: receive confirmation: %w", err)
	}

	out := make(chan []byte, 64)
	redisCh := sub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	cleanup := func() {
		_ = sub.Close()
	}

	return out, cleanup, nil
}

// MarkOnline records userID as connected to the organization. Connections
// are counted so a user with two tabs stays online until both close.
func (ps *PubSub) MarkOnline(ctx context.Context, orgID, userID uuid.UUID) error {
	if err := ps.client.HIncrBy(ctx, PresenceKey(orgID), userID.String(), 1).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.MarkOnline: %w", err)
	}
	return nil
}

// MarkOffline drops one connection for userID. It reports whether that was
// the user's last connection.
func (ps *PubSub) MarkOffline(ctx context.Context, orgID, userID uuid.UUID) (bool, error) {
	key := PresenceKey(orgID)
	n, err := ps.client.HIncrBy(ctx, key, userID.String(), -1).Result()
	if err != nil {
		return false, fmt.Errorf("redis.PubSub.MarkOffline: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if err := ps.client.HDel(ctx, key, userID.String()).Err(); err != nil {
		return true, fmt.Errorf("redis.PubSub.MarkOffline: %w", err)
	}
	return true, nil
}

// Online lists users with at least one open connection in the organization.
func (ps *PubSub) Online(ctx context.Context, orgID uuid.UUID) ([]uuid.UUID, error) {
	fields, err := ps.client.HKeys(ctx, PresenceKey(orgID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis.PubSub.Online: %w", err)
	}
	users := make([]uuid.UUID, 0, len(fields))
	for _, f := range fields {
		id, parseErr := uuid.Parse(f)
		if parseErr != nil {
			continue
		}
		users = append(users, id)
	}
	return users, nil
}

// BoardChannel returns the Redis channel name for a project board.
func BoardChannel(orgID, projectID uuid.UUID) string {
	return "board:" + orgID.String() + ":" + projectID.String()
}

// ChatChannel returns the Redis channel name for a named channel room.
func ChatChannel(orgID uuid.UUID, channel string) string {
	return "chat:" + orgID.String() + ":" + channel
}

// OrgChannel returns the Redis channel name for organization-wide events.
func OrgChannel(orgID uuid.UUID) string {
	return "org:" + orgID.String()
}

// RoomChannel maps a room to its Redis channel.
func RoomChannel(room domain.Room) string {
	switch {
	case room.Channel != "":
		return ChatChannel(room.OrgID, room.Channel)
	case room.ProjectID != uuid.Nil:
		return BoardChannel(room.OrgID, room.ProjectID)
	default:
		return OrgChannel(room.OrgID)
	}
}

// SeqKey returns the counter key that sequences events on channel.
func SeqKey(channel string) string {
	return "seq:" + channel
}

// PresenceKey returns the hash holding connection counts per user.
func PresenceKey(orgID uuid.UUID) string {
	return "presence:" + orgID.String()
}
