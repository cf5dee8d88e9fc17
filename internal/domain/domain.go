package domain

import (
	"github.com/threadloom/threadloom-backend/internal/domain/chat"
	"github.com/threadloom/threadloom-backend/internal/domain/tools"
	"github.com/threadloom/threadloom-backend/internal/domain/usage"
	"github.com/threadloom/threadloom-backend/internal/domain/user"
)

type Conversation = chat.Conversation
type Message = chat.Message

type UsageDay = usage.Day
type TokenUsage = usage.TokenUsage
type ModelUsage = usage.ModelUsage

type ToolServer = tools.ToolServer
type ToolServerConfig = tools.ServerConfig

type User = user.User
type UserSettings = user.Settings

const (
	RoleUser      = chat.RoleUser
	RoleAssistant = chat.RoleAssistant
	RoleSystem    = chat.RoleSystem

	TransportHTTP = tools.TransportHTTP
	TransportSSE  = tools.TransportSSE
)

var (
	ValidRole      = chat.ValidRole
	ValidTransport = tools.ValidTransport
)
