// Package profile provides capability objects backed by a profile file.
//
// A profile declares, per camera, the values handed to the capability
// service and the shared memory size the object reports, which may be
// deliberately hostile:
//
//	cameras:
//	  - id: 0
//	    facing: 1
//	    name: back
//	    report_size: 0
//	    values:
//	      ssm: "1;on"
//	      ssm.sizes: "2;1280x720@192/960;1920x1080@192/960"
//
// YAML and TOML are accepted, chosen by file extension.
package profile
