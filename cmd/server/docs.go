// Package main TaskHub Server API
//
//	@title						TaskHub Server API
//	@version					1.0
//	@description				Shared projects, todos, invitations, share links and realtime updates.
//
//	@host						localhost:8080
//	@BasePath					/api/v1
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"
//
//	@tag.name					User
//	@tag.description			Account and friends
//
//	@tag.name					Project
//	@tag.description			Projects, shares and todos
//
//	@tag.name					Invitation
//	@tag.description			Email invitations
//
//	@tag.name					ShareLink
//	@tag.description			Redeemable share links
//
//	@tag.name					Notification
//	@tag.description			Inbox and badges
//
//	@tag.name					Realtime
//	@tag.description			WebSocket updates
//
//	@tag.name					Admin
//	@tag.description			Maintenance and roles
package main
