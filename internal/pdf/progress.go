package pdf

// ProgressReporter は進捗更新用コールバックです。
type ProgressReporter func(stage string, percent int)

// 進捗ステージ名
const (
	StagePartition = "partition"
	StageTransform = "transform"
	StageJoin      = "join"
	StageCompleted = "completed"
)

// reportProgress は done/total を0〜100の進捗率に変換して通知します。
func reportProgress(cb ProgressReporter, stage string, done, total int) {
	if cb == nil {
		return
	}
	percent := 100
	if total > 0 {
		percent = done * 100 / total
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(stage, percent)
}

// BatchProgress は完了済みバッチ数から全体の進捗率を返します。
func BatchProgress(done, total int) int {
	var percent int
	reportProgress(func(_ string, p int) { percent = p }, StageTransform, done, total)
	return percent
}
