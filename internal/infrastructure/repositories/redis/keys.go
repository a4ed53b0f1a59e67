package redis

import "paintwithchat/internal/core/domain"

const keyPrefix = "pwc:"

func sessionKey(id domain.SessionID) string {
	return keyPrefix + "session:" + string(id)
}

// activeSessionKey points at the streamer's active session, if any.
func activeSessionKey(streamerID domain.UserID) string {
	return keyPrefix + "streamer:active:" + string(streamerID)
}

func drawingKey(id domain.SessionID) string {
	return keyPrefix + "drawing:" + string(id)
}

func userKey(id domain.UserID) string {
	return keyPrefix + "user:" + string(id)
}
