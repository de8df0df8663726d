package slp

import (
	"fmt"
	"strconv"
	"time"
)

// startAt пишется в нескольких вариантах ISO-8601 в зависимости от платформы
var startAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
}

// DecodeMetadata раскодирует хвостовой блок после raw: `U\x08metadata{...}}`.
// Пустой хвост не ошибка: запись могла оборваться до финализации файла.
func DecodeMetadata(tail []byte) (*Metadata, error) {
	return DecodeMetadataAt(tail, 0)
}

// DecodeMetadataAt то же, base смещение хвоста в исходном потоке для *MetadataError
func DecodeMetadataAt(tail []byte, base int64) (*Metadata, error) {
	if len(tail) == 0 || tail[0] == '}' {
		return nil, nil
	}

	d := &ubjsonDecoder{buf: tail, base: base}
	key, err := d.str()
	if err != nil {
		return nil, err
	}
	if key != "metadata" {
		return nil, &MetadataError{Offset: base, Msg: fmt.Sprintf("unexpected key %q after raw", key)}
	}
	start := d.off
	v, err := d.value()
	if err != nil {
		return nil, err
	}
	root, ok := v.(map[string]any)
	if !ok {
		return nil, &MetadataError{Offset: base + int64(start), Msg: fmt.Sprintf("metadata is %T, want object", v)}
	}
	return metadataFromMap(root), nil
}

func metadataFromMap(root map[string]any) *Metadata {
	m := &Metadata{}

	if s, ok := ubjString(root, "startAt"); ok {
		for _, layout := range startAtLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				t = t.UTC()
				m.StartAt = &t
				break
			}
		}
	}
	if n, ok := ubjInt(root, "lastFrame"); ok {
		lf := int32(n)
		m.LastFrame = &lf
	}
	if s, ok := ubjString(root, "playedOn"); ok {
		m.PlayedOn = Console(s)
	}
	if s, ok := ubjString(root, "consoleNick"); ok {
		m.ConsoleNick = s
	}
	if f, ok := ubjFloat(root, "duration"); ok {
		m.Duration = &f
	}
	if s, ok := ubjString(root, "version"); ok {
		m.Version = s
	}

	if players, ok := root["players"].(map[string]any); ok {
		m.Players = make(map[int]MetadataPlayer, len(players))
		for idx, raw := range players {
			slot, err := strconv.Atoi(idx)
			if err != nil || slot < 0 || slot > 3 {
				continue
			}
			entry, _ := raw.(map[string]any)
			mp := MetadataPlayer{}
			if names := ubjObject(entry, "names"); names != nil {
				mp.NetplayName, _ = ubjString(names, "netplay")
				mp.ConnectCode, _ = ubjString(names, "code")
			}
			if chars := ubjObject(entry, "characters"); chars != nil {
				mp.Characters = make(map[int]uint32, len(chars))
				for id := range chars {
					charID, err := strconv.Atoi(id)
					if err != nil {
						continue
					}
					frames, _ := ubjInt(chars, id)
					mp.Characters[charID] = uint32(frames)
				}
			}
			m.Players[slot+1] = mp
		}
	}
	return m
}
