package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status 참가자 접속 상태
type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusIdle    Status = "IDLE"
	StatusOffline Status = "OFFLINE"
)

var ErrNotPresent = errors.New("participant not present")

// Data Redis에 저장될 참가자 상태
type Data struct {
	WhiteboardID  string `json:"whiteboard_id"`
	ParticipantID string `json:"participant_id"`
	Nickname      string `json:"nickname"`
	Role          string `json:"role"`
	Status        Status `json:"status"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	ServerID      string `json:"server_id"` // 멀티 서버 확장 대비
}

// Manager 화이트보드별 참가자 Presence 관리자
type Manager struct {
	client *redis.Client
	ttl    time.Duration
}

// NewManager 생성자
func NewManager(client *redis.Client, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Manager{client: client, ttl: ttl}
}

func participantKey(whiteboardID, participantID string) string {
	return fmt.Sprintf("presence:wb:%s:p:%s", whiteboardID, participantID)
}

func membersKey(whiteboardID string) string {
	return fmt.Sprintf("presence:wb:%s:members", whiteboardID)
}

func channel(whiteboardID string) string {
	return "presence_updates:" + whiteboardID
}

// Join 참가자 입장 (Connect)
func (m *Manager) Join(ctx context.Context, data Data) error {
	data.Status = StatusOnline
	data.LastHeartbeat = time.Now().Unix()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, participantKey(data.WhiteboardID, data.ParticipantID), jsonData, m.ttl)
	pipe.SAdd(ctx, membersKey(data.WhiteboardID), data.ParticipantID)
	pipe.Publish(ctx, channel(data.WhiteboardID), jsonData)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence join: %w", err)
	}
	return nil
}

// Heartbeat 생존 신고 (TTL 연장)
func (m *Manager) Heartbeat(ctx context.Context, whiteboardID, participantID string) error {
	ok, err := m.client.Expire(ctx, participantKey(whiteboardID, participantID), m.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotPresent
	}
	return nil
}

// Leave 참가자 퇴장 (Disconnect)
func (m *Manager) Leave(ctx context.Context, whiteboardID, participantID string) error {
	offline, err := json.Marshal(Data{
		WhiteboardID:  whiteboardID,
		ParticipantID: participantID,
		Status:        StatusOffline,
		LastHeartbeat: time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	pipe := m.client.TxPipeline()
	pipe.Del(ctx, participantKey(whiteboardID, participantID))
	pipe.SRem(ctx, membersKey(whiteboardID), participantID)
	pipe.Publish(ctx, channel(whiteboardID), offline)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence leave: %w", err)
	}
	return nil
}

// List 현재 접속 중인 참가자 목록 (만료된 멤버는 정리)
func (m *Manager) List(ctx context.Context, whiteboardID string) ([]Data, error) {
	ids, err := m.client.SMembers(ctx, membersKey(whiteboardID)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Data{}, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = participantKey(whiteboardID, id)
	}

	// MGET으로 한 번에 조회
	results, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Data, 0, len(results))
	var expired []any
	for i, result := range results {
		strVal, ok := result.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var d Data
		if err := json.Unmarshal([]byte(strVal), &d); err == nil {
			out = append(out, d)
		}
	}
	if len(expired) > 0 {
		m.client.SRem(ctx, membersKey(whiteboardID), expired...)
	}
	return out, nil
}

// Subscribe 화이트보드 presence 변경 이벤트 구독
func (m *Manager) Subscribe(ctx context.Context, whiteboardID string) *redis.PubSub {
	return m.client.Subscribe(ctx, channel(whiteboardID))
}
