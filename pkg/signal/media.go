package signal

import (
	"fmt"
	"time"

	"github.com/pion/sdp/v3"
)

// MediaType тип медиа-потока.
type MediaType int

const (
	MediaAudio MediaType = iota
	MediaVideo
	MediaText
)

func (m MediaType) String() string {
	switch m {
	case MediaAudio:
		return "audio"
	case MediaVideo:
		return "video"
	case MediaText:
		return "text"
	default:
		return "unknown"
	}
}

// MediaDirection согласованное направление потока.
type MediaDirection int

const (
	DirectionInactive MediaDirection = iota
	DirectionSendOnly
	DirectionRecvOnly
	DirectionSendRecv
)

func (d MediaDirection) String() string {
	switch d {
	case DirectionSendOnly:
		return "sendonly"
	case DirectionRecvOnly:
		return "recvonly"
	case DirectionSendRecv:
		return "sendrecv"
	default:
		return "inactive"
	}
}

// MediaSummary сводка согласованного описания сессии: количество
// активных потоков по типам медиа и запланированное временное окно.
// Ядро не интересуют кодеки и адреса потоков, только факт их наличия.
type MediaSummary struct {
	// ActiveStreams количество активных потоков по типам
	ActiveStreams map[MediaType]int
	// Directions направление первого активного потока каждого типа
	Directions map[MediaType]MediaDirection
	// Start и End запланированное окно конференции (нулевые, если
	// описание не содержит расписания)
	Start time.Time
	End   time.Time
}

// HasActive сообщает, есть ли хотя бы один активный поток данного типа.
func (s *MediaSummary) HasActive(t MediaType) bool {
	if s == nil {
		return false
	}
	return s.ActiveStreams[t] > 0
}

// Смещение NTP эпохи (1900) относительно Unix эпохи (1970) в секундах.
const ntpEpochOffset = 2208988800

// ParseMediaSummary разбирает тело описания сессии (SDP) в сводку.
func ParseMediaSummary(body []byte) (*MediaSummary, error) {
	if len(body) == 0 {
		return nil, nil
	}

	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("разбор описания сессии: %w", err)
	}

	summary := &MediaSummary{
		ActiveStreams: make(map[MediaType]int),
		Directions:    make(map[MediaType]MediaDirection),
	}

	for _, md := range desc.MediaDescriptions {
		var mt MediaType
		switch md.MediaName.Media {
		case "audio":
			mt = MediaAudio
		case "video":
			mt = MediaVideo
		case "text":
			mt = MediaText
		default:
			continue
		}

		// Порт 0 означает отклоненный поток
		if md.MediaName.Port.Value == 0 {
			continue
		}

		dir := DirectionSendRecv
		for _, attr := range md.Attributes {
			switch attr.Key {
			case "inactive":
				dir = DirectionInactive
			case "sendonly":
				dir = DirectionSendOnly
			case "recvonly":
				dir = DirectionRecvOnly
			case "sendrecv":
				dir = DirectionSendRecv
			}
		}
		if dir == DirectionInactive {
			continue
		}

		summary.ActiveStreams[mt]++
		if _, seen := summary.Directions[mt]; !seen {
			summary.Directions[mt] = dir
		}
	}

	for _, td := range desc.TimeDescriptions {
		if td.Timing.StartTime != 0 {
			summary.Start = time.Unix(int64(td.Timing.StartTime)-ntpEpochOffset, 0).UTC()
		}
		if td.Timing.StopTime != 0 {
			summary.End = time.Unix(int64(td.Timing.StopTime)-ntpEpochOffset, 0).UTC()
		}
		break
	}

	return summary, nil
}
