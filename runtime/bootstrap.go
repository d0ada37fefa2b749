package runtime

import (
	"bufio"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"wediscuss/domain"
)

// BootstrapResult carries the outcome of loading the chatroom file,
// including metadata for logging.
type BootstrapResult struct {
	Restored []domain.ChatroomID
	Skipped  int
}

// LoadChatrooms seeds the directory from the bootstrap file before any
// connection is accepted. Each line holds a chatroom ID, optionally
// followed by the owner's user ID. Malformed lines are skipped one by one;
// they are never fatal to startup.
func LoadChatrooms(r io.Reader, dir *Directory, log *slog.Logger) (*BootstrapResult, error) {
	result := &BootstrapResult{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		tokens := strings.Fields(line)
		if len(tokens) > 2 {
			result.Skipped++
			continue
		}

		id, err := strconv.Atoi(tokens[0])
		if err != nil || id <= 0 {
			result.Skipped++
			continue
		}

		ownerID := 0
		if len(tokens) == 2 {
			ownerID, err = strconv.Atoi(tokens[1])
			if err != nil || ownerID < 0 {
				result.Skipped++
				continue
			}
		}

		room := dir.Restore(domain.ChatroomID(id), domain.UserID(ownerID))
		result.Restored = append(result.Restored, room.ID)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	log.Info("chatroom bootstrap complete",
		"restored", len(result.Restored),
		"skipped", result.Skipped,
		"next_id", dir.alloc.Last()+1)
	return result, nil
}
