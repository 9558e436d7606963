// Package workflow implements the Workflow Interpreter: declarative YAML
// step lists run against a driver.Device.
//
// A workflow file holds exactly one YAML document:
//
//	name: login_smoke
//	description: Log in and reach the home screen
//	metadata:
//	  app_package: com.example.app
//	  app_activity: .MainActivity
//	steps:
//	  - name: launch
//	    action: launch_app
//	  - name: tap login
//	    action: click
//	    retries: 1
//	    timeout: 10
//	    locator:
//	      strategies:
//	        - {type: id, value: "com.example.app:id/login"}
//	        - {type: text, value: "Log in"}
//	        - {type: coordinate, value: "540,1600"}
//
// Locator strategies are tried in the declared order and the first one that
// resolves wins. Coordinate strategies are the last resort and are only
// used once a full pass over the structural strategies has missed.
//
// Each step gets retries+1 attempts. A step that exhausts them halts the
// workflow; later steps are not attempted.
package workflow
