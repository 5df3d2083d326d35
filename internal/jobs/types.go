// Package jobs は検出ジョブの状態管理と実行制御を提供します。
package jobs

import "time"

// State はジョブの実行状態を表します。
// PENDING → PROCESSING → SUCCESS / FAILURE の順にのみ遷移します。
type State string

const (
	StatePending    State = "PENDING"
	StateProcessing State = "PROCESSING"
	StateSuccess    State = "SUCCESS"
	StateFailure    State = "FAILURE"
)

// Terminal は終端状態かを返します。
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailure
}

// Kind はジョブの処理種別を表します。
type Kind string

const (
	KindFaceImage   Kind = "face_image"
	KindFaceVideo   Kind = "face_video"
	KindObjectImage Kind = "object_image"
	KindObjectVideo Kind = "object_video"
)

// Valid は既知の処理種別かを返します。
func (k Kind) Valid() bool {
	switch k {
	case KindFaceImage, KindFaceVideo, KindObjectImage, KindObjectVideo:
		return true
	}
	return false
}

// IsVideo は動画を処理する種別かを返します。
func (k Kind) IsVideo() bool {
	return k == KindFaceVideo || k == KindObjectVideo
}

// IsFace は顔検出の種別かを返します。
func (k Kind) IsFace() bool {
	return k == KindFaceImage || k == KindFaceVideo
}

// Params はジョブの実行パラメーターです。
type Params struct {
	FrameSkip int `json:"frame_skip"`
}

// Job は1件の検出ジョブです。
type Job struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	InputPath     string    `json:"input_path"`
	Params        Params    `json:"params"`
	State         State     `json:"state"`
	StatusMessage string    `json:"status_message,omitempty"`
	Result        any       `json:"result,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Clone はジョブの独立したコピーを返します。
// Result は確定後に変更されないため浅いコピーで共有します。
func (j *Job) Clone() *Job {
	c := *j
	return &c
}
