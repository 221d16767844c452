// Package gocvdevice implements the camera device interfaces on top of
// OpenCV through gocv.
//
// Building this package requires OpenCV and cgo.
package gocvdevice
