package handler

// ErrorReply exposes errorReply to tests.
var ErrorReply = errorReply
