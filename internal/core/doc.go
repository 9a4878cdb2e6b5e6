// Package core holds the entities shared by every filevault service and the
// error taxonomy they report through.
package core
