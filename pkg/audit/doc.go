// Package audit records who changed which role, permission or assignment,
// and which requests were denied.
//
// Loggers are injected into the role management service and the gate. The
// default sink writes one JSON object per event through logrus so audit
// output can be routed separately from the application log.
package audit
