package consume

import (
	"encoding/json"
	"fmt"
	"hash/fnv"

	"go.uber.org/zap"

	"github.com/fuelsh/fuel/internal/ipc"
	"github.com/fuelsh/fuel/pkg/models"
)

// doneBucketLimit caps the done bucket so snapshots stay small on old boards.
const doneBucketLimit = 50

// buildSnapshot composes one consistent board picture.
func (d *Daemon) buildSnapshot() (*models.ConsumeSnapshot, error) {
	board, err := d.store.ReadBoard()
	if err != nil {
		return nil, err
	}
	epics := make(map[string]*models.Epic, len(board.Epics))
	for _, e := range board.Epics {
		epics[e.ShortID] = e
	}

	ready, inProgress, review, blocked, human, done := bucketTasks(board.Tasks, epics, doneBucketLimit)

	referenced := make(map[string]bool)
	for _, bucket := range [][]*models.Task{ready, inProgress, review, blocked, human, done} {
		for _, t := range bucket {
			if t.EpicID != "" {
				referenced[t.EpicID] = true
			}
		}
	}
	var snapEpics []*models.Epic
	for _, e := range board.Epics {
		if referenced[e.ShortID] {
			snapEpics = append(snapEpics, e)
		}
	}

	var procs []*models.ActiveProcess
	for _, p := range d.sup.Running() {
		procs = append(procs, &models.ActiveProcess{
			RunID:       p.Run.ShortID,
			TaskID:      p.TaskID,
			Agent:       p.Agent,
			PID:         p.Run.PID,
			StartedAt:   p.StartedAt,
			ProcessType: p.ProcessType,
		})
	}

	return &models.ConsumeSnapshot{
		Ready:           ready,
		InProgress:      inProgress,
		Review:          review,
		Blocked:         blocked,
		Human:           human,
		Done:            done,
		Epics:           snapEpics,
		Processes:       procs,
		Health:          board.Health,
		AgentLimits:     d.config().AgentLimits(),
		Clients:         d.server.ClientStats(),
		Paused:          d.paused.Load(),
		IntervalSeconds: int(d.interval.Load()),
		InstanceID:      d.instanceID,
		StartedAt:       d.startedAt,
	}, nil
}

// snapshotHash digests the parts of a snapshot clients render, so unchanged
// boards do not rebroadcast. Client stats are excluded; a dropped-chunk
// counter alone should not trigger a snapshot storm.
func snapshotHash(s *models.ConsumeSnapshot) string {
	h := fnv.New64a()
	enc := json.NewEncoder(h)
	for _, bucket := range [][]*models.Task{s.Ready, s.InProgress, s.Review, s.Blocked, s.Human, s.Done} {
		for _, t := range bucket {
			fmt.Fprintf(h, "%s|%s|%v|%d|", t.ShortID, t.Status, t.Consumed, t.RetryCount)
		}
		h.Write([]byte{';'})
	}
	enc.Encode(s.Epics)
	enc.Encode(s.Processes)
	enc.Encode(s.Health)
	enc.Encode(s.AgentLimits)
	fmt.Fprintf(h, "%v|%d", s.Paused, s.IntervalSeconds)
	return fmt.Sprintf("%x", h.Sum64())
}

// publishSnapshot broadcasts the current board when it differs from the last
// published one, or always when forced.
func (d *Daemon) publishSnapshot(force bool) {
	snap, err := d.buildSnapshot()
	if err != nil {
		d.storeFailure(err)
		return
	}
	hash := snapshotHash(snap)

	d.snapMu.Lock()
	changed := hash != d.lastSnapHash
	if changed {
		d.lastSnapHash = hash
	}
	d.snapMu.Unlock()

	if !changed && !force {
		return
	}

	ev := ipc.NewEvent(ipc.EventSnapshot, d.instanceID)
	ev.Snapshot = snap
	d.server.Broadcast(ev)

	status := ipc.NewEvent(ipc.EventStatusLine, d.instanceID)
	status.StatusLine = fmt.Sprintf("%d ready, %d running, %d review, %d blocked, %d need human",
		len(snap.Ready), len(snap.InProgress), len(snap.Review), len(snap.Blocked), len(snap.Human))
	d.server.Broadcast(status)

	d.log.Debug("snapshot published",
		zap.Int("ready", len(snap.Ready)),
		zap.Int("in_progress", len(snap.InProgress)),
		zap.Bool("forced", force))
}
