// Package process supervises the dev server commands rpx starts next to its
// proxies, so teardown can stop them along with everything else.
package process
