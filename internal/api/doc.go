// Package api provides the console REST client used to resolve the logged-in user.
//
// Every endpoint answers with the envelope {"code": ..., "data": ..., "message": ...}.
// Code 40100 means the session is not logged in.
package api
