// Package services holds cross-cutting helpers shared by external tool
// clients: context annotation for correlation and error classification for
// stage failures.
package services
